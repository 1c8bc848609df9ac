package acl

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"firestige.xyz/flowgate/internal/core"
)

// RuleSpec is the textual form of a rule as written in configuration.
//
//	- name: no-ssh
//	  action: deny
//	  src: 10.0.0.1
//	  dst: 10.0.0.0/24
//	  proto: tcp
//	  dst_port: "22,2222,8000-8100"
type RuleSpec struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Action  string `mapstructure:"action" yaml:"action"`
	Src     string `mapstructure:"src" yaml:"src"`
	Dst     string `mapstructure:"dst" yaml:"dst"`
	Proto   string `mapstructure:"proto" yaml:"proto"`
	DstPort string `mapstructure:"dst_port" yaml:"dst_port"`
}

// Compile validates specs and builds a policy. def is "permit" or "deny";
// empty means permit. Errors wrap core.ErrConfigInvalid and name the rule.
func Compile(specs []RuleSpec, def string) (*Policy, error) {
	defAction := Permit
	if strings.TrimSpace(def) != "" {
		a, err := ParseDefault(def)
		if err != nil {
			return nil, fmt.Errorf("%w: policy default: %v", core.ErrConfigInvalid, err)
		}
		defAction = a
	}

	rules := make([]Rule, 0, len(specs))
	for i, s := range specs {
		r, err := compileRule(s)
		if err != nil {
			label := strconv.Itoa(i)
			if s.Name != "" {
				label += " (" + s.Name + ")"
			}
			return nil, fmt.Errorf("%w: rule %s: %v", core.ErrConfigInvalid, label, err)
		}
		rules = append(rules, r)
	}
	return NewPolicy(rules, defAction), nil
}

func compileRule(s RuleSpec) (Rule, error) {
	var (
		r   = Rule{Name: s.Name}
		err error
	)
	if r.Action, err = ParseAction(s.Action); err != nil {
		return r, err
	}
	if r.Src, err = ParseAddrMatch(s.Src); err != nil {
		return r, fmt.Errorf("src: %w", err)
	}
	if r.Dst, err = ParseAddrMatch(s.Dst); err != nil {
		return r, fmt.Errorf("dst: %w", err)
	}
	if r.Proto, err = ParseProto(s.Proto); err != nil {
		return r, err
	}
	if r.DstPort, err = ParsePorts(s.DstPort); err != nil {
		return r, fmt.Errorf("dst_port: %w", err)
	}
	if len(r.DstPort) > 0 && r.Proto.Set && r.Proto.Number != core.ProtoTCP && r.Proto.Number != core.ProtoUDP {
		return r, fmt.Errorf("dst_port given for protocol %s, which has no ports", r.Proto)
	}
	return r, nil
}

// ParseAddrMatch accepts "", "any", an address or a CIDR prefix.
func ParseAddrMatch(s string) (AddrMatch, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "any") {
		return AnyAddr, nil
	}
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return AnyAddr, err
		}
		if !p.Addr().Is4() {
			return AnyAddr, fmt.Errorf("%s is not an IPv4 prefix", s)
		}
		return Subnet(p), nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return AnyAddr, err
	}
	if !ip.Is4() {
		return AnyAddr, fmt.Errorf("%s is not an IPv4 address", s)
	}
	return Host(ip), nil
}

// ParseProto accepts "", "any", tcp, udp, icmp or a protocol number.
func ParseProto(s string) (ProtoMatch, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "any", "ip":
		return ProtoAny, nil
	case "tcp":
		return Proto(core.ProtoTCP), nil
	case "udp":
		return Proto(core.ProtoUDP), nil
	case "icmp":
		return Proto(core.ProtoICMP), nil
	default:
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return ProtoAny, fmt.Errorf("unknown protocol %q", s)
		}
		return Proto(uint8(n)), nil
	}
}

// ParsePorts accepts "", "any", or a comma separated list of ports and
// inclusive ranges such as "20-21,80,443,1024-65535". The result is sorted
// and overlapping ranges are merged.
func ParsePorts(s string) (PortMatch, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "any") {
		return nil, nil
	}

	var m PortMatch
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := parsePort(lo)
		if err != nil {
			return nil, err
		}
		to := from
		if isRange {
			if to, err = parsePort(hi); err != nil {
				return nil, err
			}
			if to < from {
				return nil, fmt.Errorf("range %s is reversed", part)
			}
		}
		m = append(m, PortRange{Lo: from, Hi: to})
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("empty port list %q", s)
	}
	return merge(m), nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}

func merge(m PortMatch) PortMatch {
	sort.Slice(m, func(i, j int) bool { return m[i].Lo < m[j].Lo })
	out := m[:1]
	for _, r := range m[1:] {
		last := &out[len(out)-1]
		if uint32(r.Lo) <= uint32(last.Hi)+1 {
			if r.Hi > last.Hi {
				last.Hi = r.Hi
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
