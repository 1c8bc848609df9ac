package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
)

func TestMACPredicates(t *testing.T) {
	tests := []struct {
		mac       string
		broadcast bool
		multicast bool
	}{
		{"ff:ff:ff:ff:ff:ff", true, true},
		{"01:00:5e:00:00:fb", false, true},
		{"33:33:00:00:00:01", false, true},
		{"00:00:00:00:00:0a", false, false},
		{"00:aa:00:00:01:01", false, false},
	}
	for _, tt := range tests {
		m := MustParseMAC(tt.mac)
		if got := m.IsBroadcast(); got != tt.broadcast {
			t.Errorf("%s IsBroadcast = %v, want %v", tt.mac, got, tt.broadcast)
		}
		if got := m.IsMulticast(); got != tt.multicast {
			t.Errorf("%s IsMulticast = %v, want %v", tt.mac, got, tt.multicast)
		}
		if m.String() != tt.mac {
			t.Errorf("String() = %s, want %s", m.String(), tt.mac)
		}
	}
}

func TestParseMACRejectsLongAddress(t *testing.T) {
	if _, err := ParseMAC("00:00:00:00:fe:80:00:00:00:00:00:00:02:00:5e:10:00:00:00:01"); err == nil {
		t.Fatal("expected error for 20-byte address")
	}
	if _, err := ParseMAC("zz:00:00:00:00:00"); err == nil {
		t.Fatal("expected error for bad hex")
	}
}

func TestMACFrom(t *testing.T) {
	m, ok := MACFrom([]byte{0, 1, 2, 3, 4, 5})
	if !ok || m != (MAC{0, 1, 2, 3, 4, 5}) {
		t.Fatalf("MACFrom = %v %v", m, ok)
	}
	if _, ok := MACFrom([]byte{1, 2, 3}); ok {
		t.Fatal("MACFrom accepted a 3-byte address")
	}
}

func TestMatchFromPacket(t *testing.T) {
	pkt := PacketContext{
		InPort:  3,
		EthSrc:  MustParseMAC("00:00:00:00:00:01"),
		EthDst:  MustParseMAC("00:00:00:00:00:02"),
		EthType: EtherTypeIPv4,
		Kind:    KindIPv4,
		IP: &IPPayload{
			Src:      netip.MustParseAddr("10.0.0.1"),
			Dst:      netip.MustParseAddr("10.0.0.2"),
			Protocol: ProtoTCP,
			SrcPort:  PortOf(40000),
			DstPort:  PortOf(22),
		},
	}
	m := MatchFromPacket(pkt)
	if m.InPort != 3 || m.IPDst != pkt.IP.Dst || m.DstPort != PortOf(22) || m.IPProto != ProtoTCP {
		t.Fatalf("unexpected match %s", m)
	}

	arp := PacketContext{InPort: 1, Kind: KindARP, EthType: EtherTypeARP, ARP: &ARPPayload{Op: ARPRequest}}
	m = MatchFromPacket(arp)
	if m.IPSrc.IsValid() || m.DstPort.Valid {
		t.Fatalf("ARP match carries IP fields: %s", m)
	}
}

func TestDetachCopiesFrame(t *testing.T) {
	buf := []byte{1, 2, 3}
	pkt := PacketContext{Frame: buf, IP: &IPPayload{Protocol: ProtoUDP}}
	d := pkt.Detach()
	buf[0] = 9
	d.IP.Protocol = ProtoTCP
	if d.Frame[0] != 1 {
		t.Errorf("detached frame still aliases buffer")
	}
	if pkt.IP.Protocol != ProtoUDP {
		t.Errorf("detached payload aliases original")
	}
}

func TestFlowRuleHelpers(t *testing.T) {
	drop := FlowRule{IdleTimeout: DefaultIdleTimeout, HardTimeout: DefaultHardTimeout}
	if !drop.IsDrop() || drop.ActionsString() != "drop" {
		t.Fatalf("rule without actions is not a drop: %s", drop.ActionsString())
	}
	if _, ok := drop.OutputPort(); ok {
		t.Fatal("drop rule reports an output port")
	}

	fwd := FlowRule{Actions: []Action{
		SetEthSrc(MustParseMAC("00:aa:00:00:02:01")),
		SetEthDst(MustParseMAC("00:00:00:00:00:02")),
		OutputTo(2),
	}}
	p, ok := fwd.OutputPort()
	if !ok || p != 2 {
		t.Fatalf("OutputPort = %d %v", p, ok)
	}
	want := "set_dl_src:00:aa:00:00:02:01,set_dl_dst:00:00:00:00:00:02,output:2"
	if fwd.ActionsString() != want {
		t.Errorf("ActionsString = %s, want %s", fwd.ActionsString(), want)
	}
}

func TestSentinelErrors(t *testing.T) {
	wrapped := fmt.Errorf("classify port 1: %w", ErrParse)
	if !errors.Is(wrapped, ErrParse) {
		t.Error("errors.Is failed for wrapped ErrParse")
	}
	if errors.Is(wrapped, ErrConfigInvalid) {
		t.Error("unrelated sentinel matched")
	}
}
