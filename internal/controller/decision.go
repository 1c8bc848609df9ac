package controller

import (
	"fmt"
	"net/netip"
	"strings"

	"firestige.xyz/flowgate/internal/core"
)

// Outcome is what the engine did with a packet.
type Outcome string

const (
	// OutcomeForward: a forwarding rule was installed, the triggering frame
	// delivered with it.
	OutcomeForward Outcome = "forward"
	// OutcomeFlood: the frame was sent out every port except ingress.
	OutcomeFlood Outcome = "flood"
	// OutcomeDrop: a drop rule was installed; the frame was not emitted.
	OutcomeDrop Outcome = "drop"
	// OutcomeReply: the controller answered an ARP request itself.
	OutcomeReply Outcome = "arp_reply"
	// OutcomeUnicast: an ARP reply was sent to the learned requester port.
	OutcomeUnicast Outcome = "unicast"
	// OutcomeRequest: the frame is held and a who-has was flooded.
	OutcomeRequest Outcome = "arp_request"
	// OutcomeHeld: the frame is queued behind an outstanding request.
	OutcomeHeld Outcome = "held"
	// OutcomeRetry: an outstanding request was re-sent.
	OutcomeRetry Outcome = "arp_retry"
	// OutcomeExpired: a resolution gave up and its held frames were dropped.
	OutcomeExpired Outcome = "expired"
	// OutcomeIgnore: no control channel action.
	OutcomeIgnore Outcome = "ignore"
)

// Decision describes the handling of one packet or timer event.
type Decision struct {
	Outcome Outcome
	// Path is the classified kind, or "invalid" for frames that failed to
	// decode.
	Path   string
	InPort core.Port
	// Port is the output port of OutcomeForward and OutcomeUnicast.
	Port core.Port
	// Rule names the ACL rule behind OutcomeDrop, if it has a name.
	Rule string
	// Target is the address being resolved, where relevant.
	Target netip.Addr
	Reason string
	// Err is a parse or control channel error. It never stops the instance.
	Err error
	// Released holds the decisions for packets that were waiting on an
	// address this packet resolved.
	Released []Decision
}

func (d Decision) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s path=%s in_port=%d", d.Outcome, d.Path, d.InPort)
	if d.Port != core.NoPort {
		fmt.Fprintf(&b, " port=%d", d.Port)
	}
	if d.Rule != "" {
		fmt.Fprintf(&b, " rule=%s", d.Rule)
	}
	if d.Target.IsValid() {
		fmt.Fprintf(&b, " target=%s", d.Target)
	}
	if d.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", d.Reason)
	}
	if d.Err != nil {
		fmt.Fprintf(&b, " error=%q", d.Err.Error())
	}
	if len(d.Released) > 0 {
		fmt.Fprintf(&b, " released=%d", len(d.Released))
	}
	return b.String()
}
