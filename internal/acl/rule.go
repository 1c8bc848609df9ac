// Package acl evaluates an ordered first-match access-control policy over
// IPv4 packets.
package acl

import (
	"fmt"
	"net/netip"
	"strings"

	"firestige.xyz/flowgate/internal/core"
)

// Action is a rule verdict.
type Action uint8

const (
	Permit Action = iota
	Deny
)

func (a Action) String() string {
	if a == Deny {
		return "deny"
	}
	return "permit"
}

// ParseAction accepts permit/allow and deny/drop/block.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "permit", "allow", "accept":
		return Permit, nil
	case "deny", "drop", "block":
		return Deny, nil
	default:
		return Permit, fmt.Errorf("unknown action %q", s)
	}
}

// ParseDefault accepts only the canonical action names, "permit" or "deny".
func ParseDefault(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "permit":
		return Permit, nil
	case "deny":
		return Deny, nil
	default:
		return Permit, fmt.Errorf("unknown default %q (must be permit/deny)", s)
	}
}

// AddrMatch matches a single address or a subnet. The zero value matches
// any address.
type AddrMatch struct {
	prefix netip.Prefix
}

// AnyAddr matches every address.
var AnyAddr = AddrMatch{}

// Host matches exactly ip.
func Host(ip netip.Addr) AddrMatch {
	return AddrMatch{prefix: netip.PrefixFrom(ip, ip.BitLen())}
}

// Subnet matches every address inside p.
func Subnet(p netip.Prefix) AddrMatch {
	return AddrMatch{prefix: p.Masked()}
}

// IsAny reports whether m is a wildcard.
func (m AddrMatch) IsAny() bool { return !m.prefix.IsValid() }

// Match reports whether ip satisfies m.
func (m AddrMatch) Match(ip netip.Addr) bool {
	if m.IsAny() {
		return true
	}
	return m.prefix.Contains(ip)
}

func (m AddrMatch) String() string {
	if m.IsAny() {
		return "any"
	}
	if m.prefix.IsSingleIP() {
		return m.prefix.Addr().String()
	}
	return m.prefix.String()
}

// PortRange is an inclusive range of transport ports.
type PortRange struct {
	Lo, Hi uint16
}

// Contains reports whether p is inside r.
func (r PortRange) Contains(p uint16) bool { return p >= r.Lo && p <= r.Hi }

func (r PortRange) String() string {
	if r.Lo == r.Hi {
		return fmt.Sprintf("%d", r.Lo)
	}
	return fmt.Sprintf("%d-%d", r.Lo, r.Hi)
}

// PortMatch is a union of ranges. An empty PortMatch places no constraint
// on the port. A non-empty one never matches a packet without a port.
type PortMatch []PortRange

// Match reports whether port satisfies m.
func (m PortMatch) Match(port core.OptPort) bool {
	if len(m) == 0 {
		return true
	}
	if !port.Valid {
		return false
	}
	for _, r := range m {
		if r.Contains(port.Value) {
			return true
		}
	}
	return false
}

func (m PortMatch) String() string {
	if len(m) == 0 {
		return "any"
	}
	parts := make([]string, len(m))
	for i, r := range m {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

// ProtoMatch matches an IP protocol number. ProtoAny matches all.
type ProtoMatch struct {
	Number uint8
	Set    bool
}

// ProtoAny matches every protocol.
var ProtoAny = ProtoMatch{}

// Proto matches exactly n.
func Proto(n uint8) ProtoMatch { return ProtoMatch{Number: n, Set: true} }

// Match reports whether proto satisfies m.
func (m ProtoMatch) Match(proto uint8) bool {
	return !m.Set || m.Number == proto
}

func (m ProtoMatch) String() string {
	if !m.Set {
		return "any"
	}
	return core.ProtocolName(m.Number)
}

// Rule is one predicate with its verdict. Unset fields are wildcards.
type Rule struct {
	Name    string
	Action  Action
	Src     AddrMatch
	Dst     AddrMatch
	Proto   ProtoMatch
	DstPort PortMatch
}

// Matches reports whether the packet tuple satisfies every predicate.
func (r Rule) Matches(src, dst netip.Addr, proto uint8, dstPort core.OptPort) bool {
	return r.Src.Match(src) &&
		r.Dst.Match(dst) &&
		r.Proto.Match(proto) &&
		r.DstPort.Match(dstPort)
}

func (r Rule) String() string {
	return fmt.Sprintf("%s src=%s dst=%s proto=%s dport=%s", r.Action, r.Src, r.Dst, r.Proto, r.DstPort)
}
