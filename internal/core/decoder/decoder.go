// Package decoder classifies raw packet-in frames into core.PacketContext.
package decoder

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/flowgate/internal/core"
)

// Classifier decodes Ethernet, ARP, IPv4 and TCP/UDP/ICMPv4 headers with a
// reusable gopacket DecodingLayerParser. A Classifier is not safe for
// concurrent use; each controller instance owns one.
type Classifier struct {
	parser *gopacket.DecodingLayerParser

	eth     layers.Ethernet
	arp     layers.ARP
	ip4     layers.IPv4
	tcp     layers.TCP
	udp     layers.UDP
	icmp4   layers.ICMPv4
	payload gopacket.Payload

	decoded []gopacket.LayerType
}

// NewClassifier returns a ready Classifier.
func NewClassifier() *Classifier {
	c := &Classifier{decoded: make([]gopacket.LayerType, 0, 8)}
	c.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&c.eth,
		&c.arp,
		&c.ip4,
		&c.tcp,
		&c.udp,
		&c.icmp4,
		&c.payload,
	)
	c.parser.IgnoreUnsupported = true
	return c
}

// Classify decodes frame received on inPort.
//
// A frame whose Ethernet, ARP or IPv4 header cannot be decoded yields an
// error wrapping core.ErrParse. A TCP or UDP header that fails to decode is
// not an error: the context is returned without ports. Any other ethertype
// is returned as core.KindUnknown.
func (c *Classifier) Classify(frame []byte, inPort core.Port) (core.PacketContext, error) {
	c.decoded = c.decoded[:0]
	err := c.parser.DecodeLayers(frame, &c.decoded)

	ctx := core.PacketContext{InPort: inPort, Frame: frame}
	if !c.has(layers.LayerTypeEthernet) {
		return ctx, fmt.Errorf("%w: ethernet: %v", core.ErrParse, errOrShort(err))
	}

	ctx.EthSrc, _ = core.MACFrom(c.eth.SrcMAC)
	ctx.EthDst, _ = core.MACFrom(c.eth.DstMAC)
	ctx.EthType = uint16(c.eth.EthernetType)

	switch c.eth.EthernetType {
	case layers.EthernetTypeARP:
		if !c.has(layers.LayerTypeARP) {
			return ctx, fmt.Errorf("%w: arp: %v", core.ErrParse, errOrShort(err))
		}
		payload, ok := c.arpPayload()
		if !ok {
			// Not IPv4 over Ethernet.
			return ctx, nil
		}
		ctx.Kind = core.KindARP
		ctx.ARP = payload

	case layers.EthernetTypeIPv4:
		if !c.has(layers.LayerTypeIPv4) {
			return ctx, fmt.Errorf("%w: ipv4: %v", core.ErrParse, errOrShort(err))
		}
		ctx.Kind = core.KindIPv4
		ctx.IP = c.ipPayload()
	}

	return ctx, nil
}

func (c *Classifier) has(lt gopacket.LayerType) bool {
	for _, d := range c.decoded {
		if d == lt {
			return true
		}
	}
	return false
}

func (c *Classifier) arpPayload() (*core.ARPPayload, bool) {
	a := &c.arp
	if a.AddrType != layers.LinkTypeEthernet || a.Protocol != layers.EthernetTypeIPv4 ||
		a.HwAddressSize != 6 || a.ProtAddressSize != 4 {
		return nil, false
	}
	p := &core.ARPPayload{Op: core.ARPOp(a.Operation)}
	p.SenderMAC, _ = core.MACFrom(a.SourceHwAddress)
	p.TargetMAC, _ = core.MACFrom(a.DstHwAddress)
	p.SenderIP, _ = netip.AddrFromSlice(a.SourceProtAddress)
	p.TargetIP, _ = netip.AddrFromSlice(a.DstProtAddress)
	return p, true
}

func (c *Classifier) ipPayload() *core.IPPayload {
	p := &core.IPPayload{Protocol: uint8(c.ip4.Protocol)}
	p.Src, _ = netip.AddrFromSlice(c.ip4.SrcIP.To4())
	p.Dst, _ = netip.AddrFromSlice(c.ip4.DstIP.To4())

	switch c.ip4.Protocol {
	case layers.IPProtocolTCP:
		if c.has(layers.LayerTypeTCP) {
			p.SrcPort = core.PortOf(uint16(c.tcp.SrcPort))
			p.DstPort = core.PortOf(uint16(c.tcp.DstPort))
		}
	case layers.IPProtocolUDP:
		if c.has(layers.LayerTypeUDP) {
			p.SrcPort = core.PortOf(uint16(c.udp.SrcPort))
			p.DstPort = core.PortOf(uint16(c.udp.DstPort))
		}
	}
	return p
}

func errOrShort(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("truncated frame")
}
