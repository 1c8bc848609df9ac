package acl

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowgate/internal/core"
)

var (
	h1 = netip.MustParseAddr("10.0.0.1")
	h2 = netip.MustParseAddr("10.0.0.2")
)

func TestDenySSHOnly(t *testing.T) {
	p, err := Compile([]RuleSpec{
		{Action: "deny", Src: "10.0.0.1", Dst: "10.0.0.2", Proto: "tcp", DstPort: "22"},
	}, "permit")
	require.NoError(t, err)

	assert.True(t, p.IsBlocked(h1, h2, core.ProtoTCP, core.PortOf(22)))
	assert.False(t, p.IsBlocked(h1, h2, core.ProtoTCP, core.PortOf(80)))
	// Reverse direction is not covered by the rule.
	assert.False(t, p.IsBlocked(h2, h1, core.ProtoTCP, core.PortOf(22)))
}

func TestFirstMatchWins(t *testing.T) {
	web := netip.MustParseAddr("10.2.1.100")
	p, err := Compile([]RuleSpec{
		{Name: "web", Action: "permit", Dst: "10.2.1.100", Proto: "tcp", DstPort: "80,443"},
		{Name: "isolate", Action: "deny", Dst: "10.2.1.100"},
	}, "")
	require.NoError(t, err)

	v := p.Evaluate(netip.MustParseAddr("10.1.1.5"), web, core.ProtoTCP, core.PortOf(80))
	assert.False(t, v.Blocked)
	assert.Equal(t, 0, v.Rule)
	assert.Equal(t, "web", v.RuleName)

	v = p.Evaluate(netip.MustParseAddr("10.1.1.5"), web, core.ProtoTCP, core.PortOf(22))
	assert.True(t, v.Blocked)
	assert.Equal(t, "isolate", v.RuleName)

	v = p.Evaluate(netip.MustParseAddr("10.1.1.5"), web, core.ProtoICMP, core.OptPort{})
	assert.True(t, v.Blocked, "ICMP skips the port rule and hits the broad deny")
}

func TestPortPredicateNeverMatchesPortlessPacket(t *testing.T) {
	p := NewPolicy([]Rule{
		{Action: Deny, DstPort: PortMatch{{Lo: 0, Hi: 65535}}},
	}, Permit)

	assert.False(t, p.IsBlocked(h1, h2, core.ProtoICMP, core.OptPort{}))
	assert.True(t, p.IsBlocked(h1, h2, core.ProtoUDP, core.PortOf(0)))
}

func TestSubnetMatch(t *testing.T) {
	p, err := Compile([]RuleSpec{
		{Action: "deny", Src: "10.1.1.0/24", Dst: "10.3.0.0/16"},
	}, "permit")
	require.NoError(t, err)

	assert.True(t, p.IsBlocked(netip.MustParseAddr("10.1.1.77"), netip.MustParseAddr("10.3.9.9"), core.ProtoUDP, core.PortOf(53)))
	assert.False(t, p.IsBlocked(netip.MustParseAddr("10.1.2.77"), netip.MustParseAddr("10.3.9.9"), core.ProtoUDP, core.PortOf(53)))
}

func TestDefaultVerdict(t *testing.T) {
	permit := PermitAll()
	v := permit.Evaluate(h1, h2, core.ProtoTCP, core.PortOf(22))
	assert.False(t, v.Blocked)
	assert.True(t, v.Default())

	deny, err := Compile([]RuleSpec{{Action: "permit", Proto: "icmp"}}, "deny")
	require.NoError(t, err)
	assert.Equal(t, Deny, deny.DefaultAction())
	assert.False(t, deny.IsBlocked(h1, h2, core.ProtoICMP, core.OptPort{}))
	assert.True(t, deny.IsBlocked(h1, h2, core.ProtoTCP, core.PortOf(443)))
}

func TestParsePorts(t *testing.T) {
	tests := []struct {
		in   string
		want PortMatch
	}{
		{"", nil},
		{"any", nil},
		{"22", PortMatch{{22, 22}}},
		{"80,443", PortMatch{{80, 80}, {443, 443}}},
		{"1024-65535", PortMatch{{1024, 65535}}},
		{"443, 20-21 ,80", PortMatch{{20, 21}, {80, 80}, {443, 443}}},
		{"10-20,15-30,31", PortMatch{{10, 31}}},
	}
	for _, tt := range tests {
		got, err := ParsePorts(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"http", "70000", "30-20", ",", "1-"} {
		_, err := ParsePorts(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseProto(t *testing.T) {
	m, err := ParseProto("TCP")
	require.NoError(t, err)
	assert.Equal(t, Proto(core.ProtoTCP), m)

	m, err = ParseProto("47")
	require.NoError(t, err)
	assert.True(t, m.Match(47))
	assert.False(t, m.Match(6))

	m, err = ParseProto("")
	require.NoError(t, err)
	assert.True(t, m.Match(17))

	_, err = ParseProto("sctp")
	assert.Error(t, err)
}

func TestCompileErrorsNameRule(t *testing.T) {
	tests := []struct {
		name string
		spec RuleSpec
		def  string
		want string
	}{
		{"bad action", RuleSpec{Name: "r0", Action: "maybe"}, "", "rule 0 (r0)"},
		{"bad address", RuleSpec{Action: "deny", Src: "10.0.0.300"}, "", "rule 0"},
		{"ipv6 address", RuleSpec{Action: "deny", Dst: "fe80::1"}, "", "rule 0"},
		{"icmp with port", RuleSpec{Action: "deny", Proto: "icmp", DstPort: "22"}, "", "rule 0"},
		{"bad default", RuleSpec{Action: "deny"}, "reject-ish", "policy default"},
		{"alias default", RuleSpec{Action: "deny"}, "allow", "policy default"},
		{"drop default", RuleSpec{Action: "deny"}, "drop", "policy default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]RuleSpec{tt.spec}, tt.def)
			require.ErrorIs(t, err, core.ErrConfigInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefaultIsStrictActionsAcceptAliases(t *testing.T) {
	p, err := Compile([]RuleSpec{{Action: "block"}, {Action: "allow"}}, "deny")
	require.NoError(t, err)
	assert.Equal(t, Deny, p.DefaultAction())
	assert.Equal(t, Deny, p.Rules()[0].Action)
	assert.Equal(t, Permit, p.Rules()[1].Action)

	p, err = Compile(nil, " Permit ")
	require.NoError(t, err)
	assert.Equal(t, Permit, p.DefaultAction())

	_, err = ParseDefault("accept")
	assert.Error(t, err)
}

func TestPolicyIsImmutable(t *testing.T) {
	rules := []Rule{{Action: Deny}}
	p := NewPolicy(rules, Permit)
	rules[0].Action = Permit
	assert.True(t, p.IsBlocked(h1, h2, core.ProtoTCP, core.PortOf(1)))

	got := p.Rules()
	got[0].Action = Permit
	assert.True(t, p.IsBlocked(h1, h2, core.ProtoTCP, core.PortOf(1)))
}

func TestRuleString(t *testing.T) {
	r := Rule{Action: Deny, Src: Host(h1), Dst: Subnet(netip.MustParsePrefix("10.2.0.0/16")), Proto: Proto(core.ProtoTCP), DstPort: PortMatch{{80, 80}, {8000, 8100}}}
	assert.Equal(t, "deny src=10.0.0.1 dst=10.2.0.0/16 proto=tcp dport=80,8000-8100", r.String())
}
