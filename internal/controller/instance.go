package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/flowgate/internal/core"
	"firestige.xyz/flowgate/internal/metrics"
)

// Instance defaults.
const (
	DefaultQueueSize    = 1024
	DefaultTickInterval = 250 * time.Millisecond
)

// PacketIn is one packet-in message from the switch.
type PacketIn struct {
	Frame  []byte
	InPort core.Port
	// Time is the event time; zero means the instance clock.
	Time time.Time
}

// InstanceConfig tunes an Instance.
type InstanceConfig struct {
	QueueSize    int
	TickInterval time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Observe, if set, sees every decision on the instance goroutine.
	Observe func(Decision)
}

// Instance owns an Engine and serializes every event for it: packet-ins
// arrive on a queue and are handled to completion one at a time, and the
// expiry timer fires on the same goroutine.
type Instance struct {
	engine  *Engine
	in      chan PacketIn
	tick    time.Duration
	clock   func() time.Time
	observe func(Decision)
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewInstance wraps engine. Run must be called to start processing.
func NewInstance(engine *Engine, cfg InstanceConfig) *Instance {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Instance{
		engine:  engine,
		in:      make(chan PacketIn, cfg.QueueSize),
		tick:    cfg.TickInterval,
		clock:   cfg.Clock,
		observe: cfg.Observe,
		logger:  engine.logger,
		done:    make(chan struct{}),
	}
}

// Engine returns the wrapped engine. Only safe to inspect after Run returns.
func (i *Instance) Engine() *Engine { return i.engine }

// Deliver queues p, blocking while the queue is full. The frame must not be
// modified afterwards.
func (i *Instance) Deliver(ctx context.Context, p PacketIn) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return core.ErrInstanceClosed
	}
	select {
	case i.in <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-i.done:
		return core.ErrInstanceClosed
	}
}

// Close stops intake. Run handles what is already queued and returns.
func (i *Instance) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.closed = true
	close(i.in)
}

// Run processes events until Close drains the queue or ctx is cancelled.
func (i *Instance) Run(ctx context.Context) error {
	defer close(i.done)

	name := i.engine.Name()
	metrics.InstanceStatus.WithLabelValues(name).Set(metrics.InstanceRunning)
	defer metrics.InstanceStatus.WithLabelValues(name).Set(metrics.InstanceStopped)

	ticker := time.NewTicker(i.tick)
	defer ticker.Stop()

	i.logger.Info("controller instance started", "mode", i.engine.Mode())
	defer i.logger.Info("controller instance stopped",
		"learned", i.engine.Learned(), "pending", i.engine.Pending())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case p, ok := <-i.in:
			if !ok {
				return nil
			}
			now := p.Time
			if now.IsZero() {
				now = i.clock()
			}
			i.emit(i.engine.HandlePacketIn(p.Frame, p.InPort, now))

		case <-ticker.C:
			for _, d := range i.engine.Expire(i.clock()) {
				i.emit(d)
			}
		}
	}
}

func (i *Instance) emit(d Decision) {
	if i.observe != nil {
		i.observe(d)
	}
}
