// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net"
)

// Port is a switch port number. NoPort (0) means "no port" wherever a port
// is optional, e.g. the exclusion argument of a packet-out.
type Port uint32

// NoPort marks an absent port.
const NoPort Port = 0

// MAC is a 48-bit link-layer address. It is a value type so it can key maps.
type MAC [6]byte

// BroadcastMAC is ff:ff:ff:ff:ff:ff.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// MACFrom converts a net.HardwareAddr. ok is false unless hw is 6 bytes long.
func MACFrom(hw net.HardwareAddr) (m MAC, ok bool) {
	if len(hw) != len(m) {
		return m, false
	}
	copy(m[:], hw)
	return m, true
}

// ParseMAC parses the colon or dash separated hex form.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	m, ok := MACFrom(hw)
	if !ok {
		return MAC{}, fmt.Errorf("%q is not a 48-bit address", s)
	}
	return m, nil
}

// MustParseMAC is ParseMAC for constants and tests; it panics on error.
func MustParseMAC(s string) MAC {
	m, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// HardwareAddr returns a freshly allocated net.HardwareAddr.
func (m MAC) HardwareAddr() net.HardwareAddr {
	hw := make(net.HardwareAddr, len(m))
	copy(hw, m[:])
	return hw
}

// IsZero reports whether m is 00:00:00:00:00:00.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// IsBroadcast reports whether m is the all-ones address.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// IsMulticast reports whether the group bit is set. Broadcast is multicast.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 != 0
}

// EtherType values the controller distinguishes.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
)

// IP protocol numbers.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// ProtocolName returns a short lowercase name for well-known protocols and
// the decimal number otherwise.
func ProtocolName(p uint8) string {
	switch p {
	case ProtoICMP:
		return "icmp"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	default:
		return fmt.Sprintf("%d", p)
	}
}
