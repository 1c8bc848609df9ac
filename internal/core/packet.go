package core

import (
	"net/netip"
	"strconv"
)

// PacketKind tags which payload of a PacketContext is set.
type PacketKind uint8

const (
	KindUnknown PacketKind = iota
	KindARP
	KindIPv4
)

func (k PacketKind) String() string {
	switch k {
	case KindARP:
		return "arp"
	case KindIPv4:
		return "ip"
	default:
		return "unknown"
	}
}

// ARPOp is the ARP operation code.
type ARPOp uint16

const (
	ARPRequest ARPOp = 1
	ARPReply   ARPOp = 2
)

func (o ARPOp) String() string {
	switch o {
	case ARPRequest:
		return "request"
	case ARPReply:
		return "reply"
	default:
		return "op(" + strconv.Itoa(int(o)) + ")"
	}
}

// OptPort is an optional transport port.
type OptPort struct {
	Value uint16
	Valid bool
}

// PortOf returns a present port.
func PortOf(v uint16) OptPort {
	return OptPort{Value: v, Valid: true}
}

func (p OptPort) String() string {
	if !p.Valid {
		return "-"
	}
	return strconv.Itoa(int(p.Value))
}

// ARPPayload holds the IPv4-over-Ethernet ARP fields.
type ARPPayload struct {
	Op        ARPOp
	SenderMAC MAC
	SenderIP  netip.Addr
	TargetMAC MAC
	TargetIP  netip.Addr
}

// IPPayload holds the fields the policy and routing decisions need.
// Ports are absent for ICMP and when the transport header did not decode.
type IPPayload struct {
	Src      netip.Addr
	Dst      netip.Addr
	Protocol uint8
	SrcPort  OptPort
	DstPort  OptPort
}

// PacketContext is the classified view of one packet-in. Exactly one of ARP
// and IP is non-nil, as indicated by Kind; both are nil for KindUnknown.
type PacketContext struct {
	InPort  Port
	EthSrc  MAC
	EthDst  MAC
	EthType uint16
	Kind    PacketKind
	ARP     *ARPPayload
	IP      *IPPayload

	// Frame is the raw frame as received. It aliases the caller's buffer.
	Frame []byte
}

// Detach returns a copy whose Frame no longer aliases the receive buffer.
func (p PacketContext) Detach() PacketContext {
	if p.Frame != nil {
		p.Frame = append([]byte(nil), p.Frame...)
	}
	if p.ARP != nil {
		a := *p.ARP
		p.ARP = &a
	}
	if p.IP != nil {
		ip := *p.IP
		p.IP = &ip
	}
	return p
}
