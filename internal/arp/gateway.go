// Package arp resolves IPv4 addresses to link-layer addresses on behalf of
// the controller: it answers ARP requests for gateways and cached hosts,
// learns from ARP traffic, and probes for unknown destinations.
package arp

import (
	"fmt"
	"net/netip"
	"sort"

	"firestige.xyz/flowgate/internal/core"
)

// DefaultGatewayPrefix is the subnet length assumed when a gateway is
// configured without an explicit subnet.
const DefaultGatewayPrefix = 24

// Gateway is a virtual router interface the controller answers for.
type Gateway struct {
	IP     netip.Addr
	MAC    core.MAC
	Subnet netip.Prefix
}

// GatewayRegistry is the immutable gateway table. It is built once and may
// be shared by every controller instance.
type GatewayRegistry struct {
	byIP  map[netip.Addr]Gateway
	byMAC map[core.MAC]Gateway
	// longest prefix first
	ordered []Gateway
}

// NewGatewayRegistry validates gws and builds the registry. A zero Subnet
// defaults to the gateway address masked to DefaultGatewayPrefix.
func NewGatewayRegistry(gws []Gateway) (*GatewayRegistry, error) {
	r := &GatewayRegistry{
		byIP:  make(map[netip.Addr]Gateway, len(gws)),
		byMAC: make(map[core.MAC]Gateway, len(gws)),
	}
	for i, gw := range gws {
		if !gw.IP.Is4() {
			return nil, fmt.Errorf("%w: gateway %d: %s is not an IPv4 address", core.ErrConfigInvalid, i, gw.IP)
		}
		if gw.MAC.IsZero() || gw.MAC.IsMulticast() {
			return nil, fmt.Errorf("%w: gateway %s: %s is not a unicast MAC", core.ErrConfigInvalid, gw.IP, gw.MAC)
		}
		if !gw.Subnet.IsValid() {
			gw.Subnet = netip.PrefixFrom(gw.IP, DefaultGatewayPrefix)
		}
		gw.Subnet = gw.Subnet.Masked()
		if !gw.Subnet.Contains(gw.IP) {
			return nil, fmt.Errorf("%w: gateway %s is outside its subnet %s", core.ErrConfigInvalid, gw.IP, gw.Subnet)
		}
		if _, dup := r.byIP[gw.IP]; dup {
			return nil, fmt.Errorf("%w: duplicate gateway %s", core.ErrConfigInvalid, gw.IP)
		}
		r.byIP[gw.IP] = gw
		r.byMAC[gw.MAC] = gw
		r.ordered = append(r.ordered, gw)
	}
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Subnet.Bits() > r.ordered[j].Subnet.Bits()
	})
	return r, nil
}

// Lookup returns the gateway that owns ip.
func (r *GatewayRegistry) Lookup(ip netip.Addr) (Gateway, bool) {
	if r == nil {
		return Gateway{}, false
	}
	gw, ok := r.byIP[ip]
	return gw, ok
}

// IsGateway reports whether ip is a gateway address.
func (r *GatewayRegistry) IsGateway(ip netip.Addr) bool {
	_, ok := r.Lookup(ip)
	return ok
}

// IsGatewayMAC reports whether mac is a gateway identity.
func (r *GatewayRegistry) IsGatewayMAC(mac core.MAC) bool {
	if r == nil {
		return false
	}
	_, ok := r.byMAC[mac]
	return ok
}

// ForSubnet returns the gateway serving the subnet that contains ip, using
// the longest matching prefix.
func (r *GatewayRegistry) ForSubnet(ip netip.Addr) (Gateway, bool) {
	if r == nil {
		return Gateway{}, false
	}
	for _, gw := range r.ordered {
		if gw.Subnet.Contains(ip) {
			return gw, true
		}
	}
	return Gateway{}, false
}

// All returns the gateways sorted by address.
func (r *GatewayRegistry) All() []Gateway {
	if r == nil {
		return nil
	}
	out := append([]Gateway(nil), r.ordered...)
	sort.Slice(out, func(i, j int) bool { return out[i].IP.Less(out[j].IP) })
	return out
}

// Len returns the number of gateways.
func (r *GatewayRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byIP)
}
