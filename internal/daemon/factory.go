package daemon

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"firestige.xyz/flowgate/internal/acl"
	"firestige.xyz/flowgate/internal/arp"
	"firestige.xyz/flowgate/internal/channel"
	"firestige.xyz/flowgate/internal/config"
	"firestige.xyz/flowgate/internal/controller"
	"firestige.xyz/flowgate/internal/core"
	"firestige.xyz/flowgate/internal/eventbus"
	"firestige.xyz/flowgate/internal/source"
)

// Topology is the read-only state every switch shares.
type Topology struct {
	Gateways *arp.GatewayRegistry
	Policy   *acl.Policy
}

// LoadTopology compiles the gateway table and the policy once.
func LoadTopology(cfg *config.GlobalConfig) (Topology, error) {
	gws, err := cfg.GatewayRegistry()
	if err != nil {
		return Topology{}, err
	}
	policy, err := cfg.CompilePolicy()
	if err != nil {
		return Topology{}, err
	}
	return Topology{Gateways: gws, Policy: policy}, nil
}

// NewEngine builds the decision engine of switch sw.
func NewEngine(cfg *config.GlobalConfig, sw config.SwitchConfig, topo Topology,
	ch channel.Channel, events eventbus.Publisher, logger *slog.Logger) (*controller.Engine, error) {
	mode, err := controller.ParseMode(sw.Mode)
	if err != nil {
		return nil, err
	}
	rc, err := cfg.Controller.ResolverConfig()
	if err != nil {
		return nil, err
	}
	return controller.NewEngine(controller.Options{
		Switch:            sw.Name,
		Mode:              mode,
		Channel:           ch,
		Policy:            topo.Policy,
		Gateways:          topo.Gateways,
		Resolver:          rc,
		IdleTimeout:       uint16(cfg.Controller.IdleTimeout),
		HardTimeout:       uint16(cfg.Controller.HardTimeout),
		MaxLearned:        cfg.Controller.Learning.MaxEntries,
		UnicastARPReplies: cfg.Controller.ARP.UnicastReplies,
		Events:            events,
		Logger:            logger,
	})
}

// OpenSource opens the frame source of sw. path, if set, replaces the
// configured capture file.
func OpenSource(sw config.SwitchConfig, path string) (source.Source, error) {
	src := sw.Source
	if path != "" {
		src.Type, src.Path = config.SourceFile, path
	}
	switch src.Type {
	case config.SourceFile, "":
		if src.Path == "" {
			return nil, fmt.Errorf("%w: switch %q has no capture file", core.ErrConfigInvalid, sw.Name)
		}
		return source.OpenFile(src.Path, core.Port(src.Port))
	case config.SourceAFPacket:
		return source.OpenLive(source.LiveConfig{
			Device:      src.Device,
			Port:        core.Port(src.Port),
			SnapLen:     src.SnapLen,
			BufferMB:    src.BufferMB,
			ControlOnly: src.ControlOnly,
			Filter:      src.Filter,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported source type %q", core.ErrConfigInvalid, src.Type)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenChannel builds the control channel named by output. Every channel
// logs its calls at debug level. The closer releases an output file.
func OpenChannel(output, name string, logger *slog.Logger) (channel.Channel, io.Closer, error) {
	switch output {
	case config.OutputLog, "":
		return channel.NewLogging(channel.Discard{}, logger), nopCloser{}, nil
	case config.OutputDiscard:
		return channel.Discard{}, nopCloser{}, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open channel output: %w", err)
		}
		return channel.NewLogging(channel.NewWriter(f, name), logger), f, nil
	}
}

// InstanceConfig converts the per-instance tuning.
func InstanceConfig(cfg *config.GlobalConfig) controller.InstanceConfig {
	return controller.InstanceConfig{
		QueueSize:    cfg.Controller.QueueSize,
		TickInterval: cfg.Controller.TickInterval,
	}
}
