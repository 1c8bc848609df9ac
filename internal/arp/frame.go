package arp

import (
	"fmt"
	"net/netip"

	"github.com/mdlayher/arp"
	"github.com/mdlayher/ethernet"

	"firestige.xyz/flowgate/internal/core"
)

// DefaultProbeMAC is the sender identity of controller-originated requests
// for destinations outside every gateway subnet.
var DefaultProbeMAC = core.MAC{0x00, 0x00, 0x00, 0x00, 0x00, 0x01}

// BuildRequest returns a broadcast who-has frame for target.
func BuildRequest(senderMAC core.MAC, senderIP, target netip.Addr) ([]byte, error) {
	return marshal(arp.OperationRequest, senderMAC, senderIP, core.MAC{}, target, core.BroadcastMAC)
}

// BuildReply returns a unicast is-at frame telling requester that senderIP
// is at senderMAC.
func BuildReply(senderMAC core.MAC, senderIP netip.Addr, requesterMAC core.MAC, requesterIP netip.Addr) ([]byte, error) {
	return marshal(arp.OperationReply, senderMAC, senderIP, requesterMAC, requesterIP, requesterMAC)
}

func marshal(op arp.Operation, senderMAC core.MAC, senderIP netip.Addr, targetMAC core.MAC, targetIP netip.Addr, ethDst core.MAC) ([]byte, error) {
	senderIP, targetIP = senderIP.Unmap(), targetIP.Unmap()
	if !senderIP.Is4() || !targetIP.Is4() {
		return nil, fmt.Errorf("arp %v: need IPv4 addresses, got %s and %s", op, senderIP, targetIP)
	}

	p := &arp.Packet{
		HardwareType:       1,
		ProtocolType:       uint16(ethernet.EtherTypeIPv4),
		HardwareAddrLength: 6,
		IPLength:           4,
		Operation:          op,
		SenderHardwareAddr: senderMAC.HardwareAddr(),
		SenderIP:           senderIP,
		TargetHardwareAddr: targetMAC.HardwareAddr(),
		TargetIP:           targetIP,
	}
	pb, err := p.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal arp %v: %w", op, err)
	}

	f := &ethernet.Frame{
		Destination: ethDst.HardwareAddr(),
		Source:      senderMAC.HardwareAddr(),
		EtherType:   ethernet.EtherTypeARP,
		Payload:     pb,
	}
	fb, err := f.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ethernet: %w", err)
	}
	return fb, nil
}
