package arp

import (
	"net/netip"

	"firestige.xyz/flowgate/internal/core"
)

// Cache maps IPv4 addresses to MACs learned from ARP sender fields.
// Gateway addresses always resolve to their configured MAC and are never
// overwritten by learning.
type Cache struct {
	entries  map[netip.Addr]core.MAC
	gateways *GatewayRegistry
}

// NewCache returns a cache that answers for gws before any learning.
func NewCache(gws *GatewayRegistry) *Cache {
	return &Cache{
		entries:  make(map[netip.Addr]core.MAC),
		gateways: gws,
	}
}

// Lookup returns the MAC for ip.
func (c *Cache) Lookup(ip netip.Addr) (core.MAC, bool) {
	if gw, ok := c.gateways.Lookup(ip); ok {
		return gw.MAC, true
	}
	mac, ok := c.entries[ip]
	return mac, ok
}

// Learn records ip -> mac, last writer wins. It ignores gateway addresses,
// unspecified or non-IPv4 senders, and non-unicast MACs, and reports
// whether the entry was stored.
func (c *Cache) Learn(ip netip.Addr, mac core.MAC) bool {
	if !ip.Is4() || ip.IsUnspecified() || mac.IsZero() || mac.IsMulticast() {
		return false
	}
	if c.gateways.IsGateway(ip) {
		return false
	}
	c.entries[ip] = mac
	return true
}

// Len returns the number of learned (non-gateway) entries.
func (c *Cache) Len() int {
	return len(c.entries)
}
