// Package core defines sentinel errors.
package core

import "errors"

var (
	// Packet decoding errors
	ErrParse = errors.New("flowgate: packet parse failed")

	// Decision errors. None of them is fatal; each selects a branch of the
	// forwarding state machine.
	ErrUnresolved        = errors.New("flowgate: destination not resolved")
	ErrPolicyDenied      = errors.New("flowgate: denied by policy")
	ErrMissingGateway    = errors.New("flowgate: no gateway for destination subnet")
	ErrResolutionExpired = errors.New("flowgate: address resolution expired")

	// Channel errors
	ErrChannelClosed = errors.New("flowgate: control channel closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("flowgate: invalid configuration")

	// Instance errors
	ErrInstanceClosed = errors.New("flowgate: instance closed")
)
