package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowgate/internal/core"
	"firestige.xyz/flowgate/internal/testutil"
)

func runInstance(t *testing.T, inst *Instance, ctx context.Context) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- inst.Run(ctx) }()
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("instance did not stop")
		return nil
	}
}

func TestInstanceProcessesInOrder(t *testing.T) {
	f := newFixture(t, ModeL2, nil)
	var seen []Outcome
	inst := NewInstance(f.engine, InstanceConfig{
		QueueSize: 4,
		Observe:   func(d Decision) { seen = append(seen, d.Outcome) },
	})
	errc := runInstance(t, inst, context.Background())

	ctx := context.Background()
	require.NoError(t, inst.Deliver(ctx, PacketIn{Frame: testutil.UDP(h1, h2, "10.0.0.1", "10.0.0.2", 1, 2), InPort: 1}))
	require.NoError(t, inst.Deliver(ctx, PacketIn{Frame: testutil.UDP(h2, h1, "10.0.0.2", "10.0.0.1", 2, 1), InPort: 2}))
	require.NoError(t, inst.Deliver(ctx, PacketIn{Frame: testutil.UDP(h1, h2, "10.0.0.1", "10.0.0.2", 1, 2), InPort: 1}))
	inst.Close()

	require.NoError(t, waitErr(t, errc))
	assert.Equal(t, []Outcome{OutcomeFlood, OutcomeForward, OutcomeForward}, seen)
	assert.Equal(t, 3, f.rec.Len())
}

func TestInstanceDeliverAfterClose(t *testing.T) {
	f := newFixture(t, ModeL2, nil)
	inst := NewInstance(f.engine, InstanceConfig{})
	inst.Close()
	inst.Close()

	err := inst.Deliver(context.Background(), PacketIn{})
	assert.ErrorIs(t, err, core.ErrInstanceClosed)
	assert.NoError(t, inst.Run(context.Background()))
}

func TestInstanceStopsOnCancel(t *testing.T) {
	f := newFixture(t, ModeL2, nil)
	inst := NewInstance(f.engine, InstanceConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := runInstance(t, inst, ctx)

	cancel()
	err := waitErr(t, errc)
	assert.True(t, errors.Is(err, context.Canceled))

	// Deliver must not block on a stopped instance.
	full := NewInstance(f.engine, InstanceConfig{QueueSize: 1})
	fctx, fcancel := context.WithCancel(context.Background())
	ferrc := runInstance(t, full, fctx)
	fcancel()
	waitErr(t, ferrc)
	for i := 0; i < 3; i++ {
		if err := full.Deliver(context.Background(), PacketIn{}); err != nil {
			assert.ErrorIs(t, err, core.ErrInstanceClosed)
			return
		}
	}
	t.Fatal("Deliver kept accepting after Run returned")
}

func TestInstanceTickerDrivesExpiry(t *testing.T) {
	f := newFixture(t, ModeL3, nil)
	expired := make(chan Decision, 1)
	// Each tick observes a clock one retry interval later than the last.
	now := t0
	inst := NewInstance(f.engine, InstanceConfig{
		TickInterval: time.Millisecond,
		Clock: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
		Observe: func(d Decision) {
			if d.Outcome == OutcomeExpired {
				select {
				case expired <- d:
				default:
				}
			}
		},
	})
	errc := runInstance(t, inst, context.Background())

	require.NoError(t, inst.Deliver(context.Background(), PacketIn{
		Frame:  testutil.TCP(h1, gw1, "10.1.1.1", "10.2.1.50", 40000, 80),
		InPort: 1,
		Time:   t0,
	}))

	select {
	case d := <-expired:
		assert.Equal(t, "10.2.1.50", d.Target.String())
	case <-time.After(5 * time.Second):
		t.Fatal("resolution never expired")
	}
	inst.Close()
	require.NoError(t, waitErr(t, errc))
	assert.Equal(t, 0, f.engine.Pending())
}
