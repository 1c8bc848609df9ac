package config

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"firestige.xyz/flowgate/internal/acl"
	"firestige.xyz/flowgate/internal/arp"
	"firestige.xyz/flowgate/internal/core"
	"firestige.xyz/flowgate/internal/eventbus"
)

// Options converts the Kafka section for the exporter.
func (k KafkaConfig) Options() eventbus.KafkaOptions {
	return eventbus.KafkaOptions{
		Brokers:      append([]string(nil), k.Brokers...),
		Topic:        k.Topic,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		Compression:  k.Compression,
		MaxAttempts:  k.MaxAttempts,
	}
}

// GatewayRegistry parses the gateway table.
func (cfg *GlobalConfig) GatewayRegistry() (*arp.GatewayRegistry, error) {
	gws := make([]arp.Gateway, 0, len(cfg.Gateways))
	for i, g := range cfg.Gateways {
		ip, err := netip.ParseAddr(g.IP)
		if err != nil {
			return nil, fmt.Errorf("%w: gateways[%d].ip: %v", core.ErrConfigInvalid, i, err)
		}
		mac, err := core.ParseMAC(g.MAC)
		if err != nil {
			return nil, fmt.Errorf("%w: gateways[%d].mac: %v", core.ErrConfigInvalid, i, err)
		}
		gw := arp.Gateway{IP: ip, MAC: mac}
		if g.Subnet != "" {
			if gw.Subnet, err = netip.ParsePrefix(g.Subnet); err != nil {
				return nil, fmt.Errorf("%w: gateways[%d].subnet: %v", core.ErrConfigInvalid, i, err)
			}
		}
		gws = append(gws, gw)
	}
	return arp.NewGatewayRegistry(gws)
}

// CompilePolicy builds the ACL from the inline rules or the policy file.
func (cfg *GlobalConfig) CompilePolicy() (*acl.Policy, error) {
	if cfg.Policy.File != "" {
		return ParsePolicyFile(cfg.Policy.File, cfg.Policy.Default)
	}
	return acl.Compile(cfg.Policy.Rules, cfg.Policy.Default)
}

// ResolverConfig converts the ARP tuning.
func (c *ControllerConfig) ResolverConfig() (arp.Config, error) {
	rc := arp.Config{
		RetryInterval: c.ARP.RetryInterval,
		MaxRetries:    c.ARP.MaxRetries,
		MaxQueued:     c.ARP.MaxQueued,
	}
	if c.ARP.ProbeMAC != "" {
		mac, err := core.ParseMAC(c.ARP.ProbeMAC)
		if err != nil {
			return arp.Config{}, fmt.Errorf("%w: controller.arp.probe_mac: %v", core.ErrConfigInvalid, err)
		}
		if mac.IsMulticast() {
			return arp.Config{}, fmt.Errorf("%w: controller.arp.probe_mac %s is not unicast", core.ErrConfigInvalid, mac)
		}
		rc.ProbeMAC = mac
	}
	return rc, nil
}

// PolicyFile is the layout of a standalone policy document:
//
//	default: deny
//	rules:
//	  - name: web
//	    action: permit
//	    proto: tcp
//	    dst_port: "80,443"
type PolicyFile struct {
	Default string         `yaml:"default"`
	Rules   []acl.RuleSpec `yaml:"rules"`
}

// ParsePolicyFile loads and compiles a standalone policy. A default in the
// file wins over def.
func ParsePolicyFile(path, def string) (*acl.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("%w: parse policy file %s: %v", core.ErrConfigInvalid, path, err)
	}
	if pf.Default != "" {
		def = pf.Default
	}
	p, err := acl.Compile(pf.Rules, def)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}
