package channel

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"sync"

	"firestige.xyz/flowgate/internal/core"
)

// Writer encodes every call as one JSON object per line. It is what the
// daemon uses when a switch has an output file instead of a live session.
type Writer struct {
	mu   sync.Mutex
	enc  *json.Encoder
	name string
}

type writerRecord struct {
	Switch      string `json:"switch"`
	Kind        string `json:"kind"`
	Match       string `json:"match,omitempty"`
	Actions     string `json:"actions,omitempty"`
	IdleTimeout uint16 `json:"idle_timeout,omitempty"`
	HardTimeout uint16 `json:"hard_timeout,omitempty"`
	Deliver     bool   `json:"deliver_original,omitempty"`
	Output      string `json:"output,omitempty"`
	Exclude     uint32 `json:"exclude,omitempty"`
	Frame       string `json:"frame,omitempty"`
}

// NewWriter writes records tagged with switchName to w.
func NewWriter(w io.Writer, switchName string) *Writer {
	return &Writer{enc: json.NewEncoder(w), name: switchName}
}

func (w *Writer) InstallRule(rule core.FlowRule) error {
	return w.write(writerRecord{
		Kind:        string(KindFlowMod),
		Match:       rule.Match.String(),
		Actions:     rule.ActionsString(),
		IdleTimeout: rule.IdleTimeout,
		HardTimeout: rule.HardTimeout,
		Deliver:     rule.DeliverOriginal,
	})
}

func (w *Writer) SendPacket(frame []byte, out core.Output, exclude core.Port) error {
	return w.write(writerRecord{
		Kind:    string(KindPacketOut),
		Output:  out.String(),
		Exclude: uint32(exclude),
		Frame:   hex.EncodeToString(frame),
	})
}

func (w *Writer) write(rec writerRecord) error {
	rec.Switch = w.name
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(rec)
}
