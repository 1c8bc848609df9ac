package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowgate/internal/core"
)

func TestRecorderKeepsOrderAndCopies(t *testing.T) {
	rec := NewRecorder()
	frame := []byte{1, 2, 3}

	require.NoError(t, rec.SendPacket(frame, core.Flood, 3))
	require.NoError(t, rec.InstallRule(core.FlowRule{
		Match:   core.FlowMatch{InPort: 1},
		Actions: []core.Action{core.OutputTo(2)},
	}))
	frame[0] = 9

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, KindPacketOut, calls[0].Kind)
	assert.Equal(t, byte(1), calls[0].Frame[0], "recorded frame must not alias the caller buffer")
	assert.Equal(t, core.Port(3), calls[0].Exclude)
	assert.True(t, calls[0].Out.Flood)
	assert.Equal(t, KindFlowMod, calls[1].Kind)

	rec.Reset()
	assert.Equal(t, 0, rec.Len())
}

func TestRecorderFailWith(t *testing.T) {
	rec := NewRecorder()
	boom := errors.New("session down")
	rec.FailWith(boom)
	assert.ErrorIs(t, rec.SendPacket(nil, core.ToPort(1), core.NoPort), boom)
	assert.Equal(t, 1, rec.Len())
}

func TestLoggingForwards(t *testing.T) {
	rec := NewRecorder()
	l := NewLogging(rec, nil)
	require.NoError(t, l.InstallRule(core.FlowRule{}))
	require.NoError(t, l.SendPacket([]byte{0}, core.ToPort(4), core.NoPort))
	assert.Equal(t, 2, rec.Len())

	assert.NoError(t, NewLogging(nil, nil).InstallRule(core.FlowRule{}))
}

func TestWriterEncodesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, "s1")
	require.NoError(t, w.InstallRule(core.FlowRule{
		Match:       core.FlowMatch{InPort: 1},
		IdleTimeout: core.DefaultIdleTimeout,
		HardTimeout: core.DefaultHardTimeout,
	}))
	require.NoError(t, w.SendPacket([]byte{0xab}, core.Flood, 1))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "s1", rec["switch"])
	assert.Equal(t, "flow_mod", rec["kind"])
	assert.Equal(t, "drop", rec["actions"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "packet_out", rec["kind"])
	assert.Equal(t, "flood", rec["output"])
	assert.Equal(t, "ab", rec["frame"])
}

func TestDiscard(t *testing.T) {
	var ch Channel = Discard{}
	assert.NoError(t, ch.InstallRule(core.FlowRule{}))
	assert.NoError(t, ch.SendPacket(nil, core.Flood, 1))
}
