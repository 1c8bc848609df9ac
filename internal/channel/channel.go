// Package channel defines the control channel to a switch and the
// implementations the controller ships with.
package channel

import (
	"fmt"
	"sync"

	"firestige.xyz/flowgate/internal/core"
)

// Channel is the southbound control channel of one switch. Calls are fire
// and forget: the controller logs and counts errors but never retries.
type Channel interface {
	// InstallRule submits a flow rule. A rule with DeliverOriginal set also
	// applies to the packet that triggered it.
	InstallRule(rule core.FlowRule) error
	// SendPacket emits frame. When out.Flood is set the frame goes to every
	// port except exclude.
	SendPacket(frame []byte, out core.Output, exclude core.Port) error
}

// CallKind names a channel operation.
type CallKind string

const (
	KindFlowMod   CallKind = "flow_mod"
	KindPacketOut CallKind = "packet_out"
)

// Call is one recorded channel operation.
type Call struct {
	Kind    CallKind
	Rule    core.FlowRule
	Frame   []byte
	Out     core.Output
	Exclude core.Port
}

func (c Call) String() string {
	switch c.Kind {
	case KindFlowMod:
		return fmt.Sprintf("flow_mod %s actions=%s idle=%d hard=%d deliver=%v",
			c.Rule.Match, c.Rule.ActionsString(), c.Rule.IdleTimeout, c.Rule.HardTimeout, c.Rule.DeliverOriginal)
	case KindPacketOut:
		return fmt.Sprintf("packet_out %s exclude=%d len=%d", c.Out, c.Exclude, len(c.Frame))
	default:
		return string(c.Kind)
	}
}

// Recorder keeps every call in order. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	err   error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes every later call return err after recording it.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) InstallRule(rule core.FlowRule) error {
	if rule.Original != nil {
		rule.Original = append([]byte(nil), rule.Original...)
	}
	rule.Actions = append([]core.Action(nil), rule.Actions...)
	return r.record(Call{Kind: KindFlowMod, Rule: rule})
}

func (r *Recorder) SendPacket(frame []byte, out core.Output, exclude core.Port) error {
	return r.record(Call{
		Kind:    KindPacketOut,
		Frame:   append([]byte(nil), frame...),
		Out:     out,
		Exclude: exclude,
	})
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Len returns the number of recorded calls.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Discard accepts and drops every call.
type Discard struct{}

func (Discard) InstallRule(core.FlowRule) error { return nil }
func (Discard) SendPacket([]byte, core.Output, core.Port) error { return nil }
