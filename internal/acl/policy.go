package acl

import (
	"net/netip"

	"firestige.xyz/flowgate/internal/core"
)

// Verdict is the result of evaluating a packet.
type Verdict struct {
	Blocked bool
	// Rule is the index of the matching rule, -1 when the default applied.
	Rule     int
	RuleName string
}

// Default reports whether no rule matched.
func (v Verdict) Default() bool { return v.Rule < 0 }

// Policy is an immutable ordered rule list with a default verdict. It is
// safe for concurrent use.
type Policy struct {
	rules []Rule
	def   Action
}

// NewPolicy copies rules into a policy that applies def when nothing matches.
func NewPolicy(rules []Rule, def Action) *Policy {
	return &Policy{rules: append([]Rule(nil), rules...), def: def}
}

// PermitAll is the empty default-permit policy.
func PermitAll() *Policy { return NewPolicy(nil, Permit) }

// Evaluate returns the verdict of the first rule matching the tuple, or the
// default verdict.
func (p *Policy) Evaluate(src, dst netip.Addr, proto uint8, dstPort core.OptPort) Verdict {
	for i, r := range p.rules {
		if r.Matches(src, dst, proto, dstPort) {
			return Verdict{Blocked: r.Action == Deny, Rule: i, RuleName: r.Name}
		}
	}
	return Verdict{Blocked: p.def == Deny, Rule: -1}
}

// IsBlocked is Evaluate reduced to its decision.
func (p *Policy) IsBlocked(src, dst netip.Addr, proto uint8, dstPort core.OptPort) bool {
	return p.Evaluate(src, dst, proto, dstPort).Blocked
}

// EvaluatePacket evaluates the IPv4 fields of ip.
func (p *Policy) EvaluatePacket(ip *core.IPPayload) Verdict {
	return p.Evaluate(ip.Src, ip.Dst, ip.Protocol, ip.DstPort)
}

// Rules returns a copy of the rule list.
func (p *Policy) Rules() []Rule { return append([]Rule(nil), p.rules...) }

// DefaultAction returns the verdict applied when no rule matches.
func (p *Policy) DefaultAction() Action { return p.def }

// Len returns the number of rules.
func (p *Policy) Len() int { return len(p.rules) }
