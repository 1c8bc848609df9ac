package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/flowgate/internal/config"
	"firestige.xyz/flowgate/internal/controller"
	"firestige.xyz/flowgate/internal/eventbus"
	"firestige.xyz/flowgate/internal/source"
)

// Switch is one switch connection: a frame source pumping packet-ins into
// a controller instance.
type Switch struct {
	name     string
	instance *controller.Instance
	src      source.Source
	out      io.Closer
	logger   *slog.Logger
}

// NewSwitch wires the source, channel, engine and instance of sw.
func NewSwitch(cfg *config.GlobalConfig, sw config.SwitchConfig, topo Topology,
	events eventbus.Publisher, logger *slog.Logger) (*Switch, error) {
	logger = logger.With("switch", sw.Name)

	ch, out, err := OpenChannel(sw.Output, sw.Name, logger)
	if err != nil {
		return nil, err
	}
	engine, err := NewEngine(cfg, sw, topo, ch, events, logger)
	if err != nil {
		out.Close()
		return nil, err
	}
	src, err := OpenSource(sw, "")
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("open source: %w", err)
	}

	ic := InstanceConfig(cfg)
	ic.Observe = func(d controller.Decision) {
		logger.Debug("packet handled", "decision", d.String())
	}
	return &Switch{
		name:     sw.Name,
		instance: controller.NewInstance(engine, ic),
		src:      src,
		out:      out,
		logger:   logger,
	}, nil
}

// Name returns the switch name.
func (s *Switch) Name() string { return s.name }

// Run serves the switch until its source is exhausted or ctx ends. The
// instance finishes everything already queued before Run returns.
func (s *Switch) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.instance.Run(gctx)
	})
	g.Go(func() error {
		defer s.instance.Close()
		n, err := source.Pump(gctx, s.src, func(ctx context.Context, f source.Frame) error {
			// Sources replay at wall-clock speed; expiry runs on the same clock.
			return s.instance.Deliver(ctx, controller.PacketIn{Frame: f.Data, InPort: f.InPort})
		})
		s.logger.Info("frame source finished", "frames", n)
		return err
	})

	err := g.Wait()
	if ctx.Err() != nil {
		// Shutdown; read errors from a closed source are expected.
		return nil
	}
	return err
}

// Close releases the source and the channel output. It also unblocks a
// live source so that Run can return.
func (s *Switch) Close() error {
	return errors.Join(s.src.Close(), s.out.Close())
}
