// Package testutil builds wire frames for tests.
package testutil

import (
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/flowgate/internal/core"
)

// Serialize encodes the layers with computed lengths and checksums. It
// panics on error since inputs are fixed test vectors.
func Serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

// Ethernet returns an Ethernet header.
func Ethernet(src, dst core.MAC, et layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       src.HardwareAddr(),
		DstMAC:       dst.HardwareAddr(),
		EthernetType: et,
	}
}

// IPv4 returns an IPv4 header carrying proto.
func IPv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

// TCP builds an Ethernet/IPv4/TCP SYN frame.
func TCP(ethSrc, ethDst core.MAC, src, dst string, sport, dport uint16) []byte {
	ip := IPv4(src, dst, layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), SYN: true, Window: 1024}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return Serialize(Ethernet(ethSrc, ethDst, layers.EthernetTypeIPv4), ip, tcp)
}

// UDP builds an Ethernet/IPv4/UDP frame with a short payload.
func UDP(ethSrc, ethDst core.MAC, src, dst string, sport, dport uint16) []byte {
	ip := IPv4(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return Serialize(Ethernet(ethSrc, ethDst, layers.EthernetTypeIPv4), ip, udp, gopacket.Payload("flowgate"))
}

// ICMPEcho builds an Ethernet/IPv4/ICMP echo request frame.
func ICMPEcho(ethSrc, ethDst core.MAC, src, dst string) []byte {
	ip := IPv4(src, dst, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: 1}
	return Serialize(Ethernet(ethSrc, ethDst, layers.EthernetTypeIPv4), ip, icmp, gopacket.Payload("ping"))
}

// ARP builds an IPv4-over-Ethernet ARP frame. The Ethernet destination is
// broadcast for requests and targetMAC for replies.
func ARP(op core.ARPOp, senderMAC core.MAC, senderIP string, targetMAC core.MAC, targetIP string) []byte {
	dst := targetMAC
	if op == core.ARPRequest {
		dst = core.BroadcastMAC
	}
	a := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         uint16(op),
		SourceHwAddress:   senderMAC.HardwareAddr(),
		SourceProtAddress: net.ParseIP(senderIP).To4(),
		DstHwAddress:      targetMAC.HardwareAddr(),
		DstProtAddress:    net.ParseIP(targetIP).To4(),
	}
	return Serialize(Ethernet(senderMAC, dst, layers.EthernetTypeARP), a)
}

// Addr parses an address literal.
func Addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}
