package core

import (
	"fmt"
	"net/netip"
	"strings"
)

// FlowMatch selects the packets a FlowRule applies to. Zero-valued fields
// are wildcards.
type FlowMatch struct {
	InPort  Port
	EthSrc  MAC
	EthDst  MAC
	EthType uint16
	IPSrc   netip.Addr
	IPDst   netip.Addr
	IPProto uint8
	SrcPort OptPort
	DstPort OptPort
}

// MatchFromPacket derives an exact match for the packet, including ingress
// port and, for IPv4, network and transport fields.
func MatchFromPacket(p PacketContext) FlowMatch {
	m := FlowMatch{
		InPort:  p.InPort,
		EthSrc:  p.EthSrc,
		EthDst:  p.EthDst,
		EthType: p.EthType,
	}
	if p.IP != nil {
		m.IPSrc = p.IP.Src
		m.IPDst = p.IP.Dst
		m.IPProto = p.IP.Protocol
		m.SrcPort = p.IP.SrcPort
		m.DstPort = p.IP.DstPort
	}
	return m
}

func (m FlowMatch) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "in_port=%d dl_src=%s dl_dst=%s", m.InPort, m.EthSrc, m.EthDst)
	if m.EthType != 0 {
		fmt.Fprintf(&b, " dl_type=0x%04x", m.EthType)
	}
	if m.IPSrc.IsValid() {
		fmt.Fprintf(&b, " nw_src=%s", m.IPSrc)
	}
	if m.IPDst.IsValid() {
		fmt.Fprintf(&b, " nw_dst=%s", m.IPDst)
	}
	if m.IPProto != 0 {
		fmt.Fprintf(&b, " nw_proto=%d", m.IPProto)
	}
	if m.SrcPort.Valid {
		fmt.Fprintf(&b, " tp_src=%d", m.SrcPort.Value)
	}
	if m.DstPort.Valid {
		fmt.Fprintf(&b, " tp_dst=%d", m.DstPort.Value)
	}
	return b.String()
}

// ActionType enumerates rule actions.
type ActionType uint8

const (
	ActionOutput ActionType = iota + 1
	ActionSetEthSrc
	ActionSetEthDst
)

// Action is one rule action. Port is used by ActionOutput, MAC by the
// rewrite actions.
type Action struct {
	Type ActionType
	Port Port
	MAC  MAC
}

// OutputTo returns an output action.
func OutputTo(p Port) Action { return Action{Type: ActionOutput, Port: p} }

// SetEthSrc returns a source address rewrite.
func SetEthSrc(m MAC) Action { return Action{Type: ActionSetEthSrc, MAC: m} }

// SetEthDst returns a destination address rewrite.
func SetEthDst(m MAC) Action { return Action{Type: ActionSetEthDst, MAC: m} }

func (a Action) String() string {
	switch a.Type {
	case ActionOutput:
		return fmt.Sprintf("output:%d", a.Port)
	case ActionSetEthSrc:
		return "set_dl_src:" + a.MAC.String()
	case ActionSetEthDst:
		return "set_dl_dst:" + a.MAC.String()
	default:
		return fmt.Sprintf("action(%d)", a.Type)
	}
}

// Default rule lifetimes in seconds.
const (
	DefaultIdleTimeout uint16 = 30
	DefaultHardTimeout uint16 = 300
)

// FlowRule is submitted to the switch and never tracked afterwards. A rule
// with no actions drops matching traffic.
type FlowRule struct {
	Match       FlowMatch
	Actions     []Action
	IdleTimeout uint16
	HardTimeout uint16

	// DeliverOriginal asks the switch to apply the rule to Original as well.
	DeliverOriginal bool
	Original        []byte
}

// IsDrop reports whether the rule has no actions.
func (r FlowRule) IsDrop() bool {
	return len(r.Actions) == 0
}

// OutputPort returns the port of the first output action.
func (r FlowRule) OutputPort() (Port, bool) {
	for _, a := range r.Actions {
		if a.Type == ActionOutput {
			return a.Port, true
		}
	}
	return NoPort, false
}

// ActionsString renders the action list, "drop" when it is empty.
func (r FlowRule) ActionsString() string {
	if r.IsDrop() {
		return "drop"
	}
	parts := make([]string, len(r.Actions))
	for i, a := range r.Actions {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

// Output names where a packet-out goes: a single port or every port.
type Output struct {
	Port  Port
	Flood bool
}

// Flood is the broadcast output.
var Flood = Output{Flood: true}

// ToPort returns a unicast output.
func ToPort(p Port) Output { return Output{Port: p} }

func (o Output) String() string {
	if o.Flood {
		return "flood"
	}
	return fmt.Sprintf("port:%d", o.Port)
}
