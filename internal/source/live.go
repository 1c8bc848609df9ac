package source

import (
	"errors"
	"time"

	"firestige.xyz/flowgate/internal/core"
)

// Live capture defaults.
const (
	DefaultSnapLen     = 2048
	DefaultBufferMB    = 8
	DefaultPollTimeout = 100 * time.Millisecond
)

// ErrLiveUnsupported is returned by OpenLive on builds without AF_PACKET.
var ErrLiveUnsupported = errors.New("flowgate: live capture is not supported on this platform")

// LiveConfig describes an AF_PACKET capture. Every frame read from Device is
// a packet-in on Port.
type LiveConfig struct {
	Device      string
	Port        core.Port
	SnapLen     int
	BufferMB    int
	PollTimeout time.Duration
	// ControlOnly installs ControlFilter so that only ARP and IPv4 frames
	// reach the controller.
	ControlOnly bool
	// Filter is a tcpdump expression compiled with libpcap. It replaces
	// ControlOnly.
	Filter string
}

func (c *LiveConfig) applyDefaults() {
	if c.Port == core.NoPort {
		c.Port = DefaultFilePort
	}
	if c.SnapLen <= 0 {
		c.SnapLen = DefaultSnapLen
	}
	if c.BufferMB <= 0 {
		c.BufferMB = DefaultBufferMB
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
}
