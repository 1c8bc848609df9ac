package controller

import (
	"fmt"
	"strings"

	"firestige.xyz/flowgate/internal/core"
)

// Mode selects the forwarding behaviour of an engine.
type Mode string

const (
	// ModeL2 is a plain learning switch.
	ModeL2 Mode = "l2"
	// ModeL2Firewall is a learning switch that checks IPv4 traffic against
	// the policy.
	ModeL2Firewall Mode = "l2-firewall"
	// ModeL3 adds ARP handling and inter-subnet routing through gateway
	// rewriting.
	ModeL3 Mode = "l3"
)

// Modes lists the accepted modes.
var Modes = []Mode{ModeL2, ModeL2Firewall, ModeL3}

// ParseMode accepts a Mode name; empty selects ModeL3.
func ParseMode(s string) (Mode, error) {
	if strings.TrimSpace(s) == "" {
		return ModeL3, nil
	}
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown mode %q", core.ErrConfigInvalid, s)
}
