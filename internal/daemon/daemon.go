// Package daemon implements the controller daemon lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/flowgate/internal/config"
	"firestige.xyz/flowgate/internal/eventbus"
	logpkg "firestige.xyz/flowgate/internal/log"
	"firestige.xyz/flowgate/internal/metrics"
)

// Version is reported at startup and by the CLI.
const Version = "0.1.0"

const shutdownTimeout = 5 * time.Second

// Daemon manages the flowgate process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	pidFile    string

	// Core components
	bus           *eventbus.InMemoryEventBus
	exporter      *eventbus.KafkaExporter // nil unless events.kafka.enabled
	metricsServer *metrics.Server // nil if metrics disabled
	switches      []*Switch

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	launched     bool
	done         chan struct{} // closed once every switch has returned
	runErr       error
	stopOnce     sync.Once
}

// New loads configuration and creates a Daemon. pidFile overrides
// control.pid_file when set.
func New(configPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if pidFile == "" {
		pidFile = cfg.Control.PIDFile
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes every component and starts serving the switches.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.Info("starting flowgate daemon",
		"version", Version,
		"config", d.configPath,
		"switches", d.config.SwitchNames(),
	)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Operator event bus
	d.bus = eventbus.NewInMemoryEventBus(d.config.Events.Partitions, d.config.Events.QueueSize, logpkg.Get())
	if err := eventbus.SubscribeOperatorLog(d.bus, logpkg.Get()); err != nil {
		d.Stop()
		return fmt.Errorf("failed to subscribe operator log: %w", err)
	}
	if err := d.startExporter(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start event exporter: %w", err)
	}

	// 5. Shared topology
	topo, err := LoadTopology(d.config)
	if err != nil {
		d.Stop()
		return err
	}
	slog.Info("topology loaded",
		"gateways", topo.Gateways.Len(),
		"rules", topo.Policy.Len(),
		"default", topo.Policy.DefaultAction().String(),
	)

	// 6. One instance per switch
	for _, swCfg := range d.config.Switches {
		sw, err := NewSwitch(d.config, swCfg, topo, d.bus, logpkg.Get())
		if err != nil {
			d.Stop()
			return fmt.Errorf("switch %q: %w", swCfg.Name, err)
		}
		d.switches = append(d.switches, sw)
	}

	g, gctx := errgroup.WithContext(d.ctx)
	for _, sw := range d.switches {
		sw := sw
		g.Go(func() error {
			if err := sw.Run(gctx); err != nil {
				return fmt.Errorf("switch %q: %w", sw.Name(), err)
			}
			return nil
		})
	}
	d.launched = true
	go func() {
		d.runErr = g.Wait()
		close(d.done)
	}()

	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown. It is safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Cancel context so instances stop taking packets
	d.cancel()

	// 2. Close sources; a live capture only returns once closed
	for _, sw := range d.switches {
		if err := sw.Close(); err != nil {
			slog.Error("error closing switch", "switch", sw.Name(), "error", err)
		}
	}
	if d.launched {
		select {
		case <-d.done:
		case <-time.After(shutdownTimeout):
			slog.Error("switches did not stop in time")
		}
	}

	// 3. Drain operator events
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			slog.Error("error closing event bus", "error", err)
		}
	}
	if d.exporter != nil {
		if err := d.exporter.Close(); err != nil {
			slog.Error("error closing event exporter", "error", err)
		}
	}

	// 4. Stop metrics server
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.metricsServer.Stop(ctx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 5. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
	logpkg.Flush()
}

// Run blocks until shutdown is triggered. Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. TriggerShutdown
//  3. every switch source being exhausted
//
// SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.done:
			slog.Info("all switches finished")
			err := d.runErr
			d.Stop()
			return err

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level/format.
// Cold (requires restart): gateways, policy, switches, controller tuning,
// metrics listen address, event bus and export.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if newConfig.Log != d.config.Log {
		if err := logpkg.Init(newConfig.Log); err != nil {
			slog.Error("failed to reinitialize logging", "error", err)
		} else {
			d.config.Log = newConfig.Log
			hotReloaded = append(hotReloaded, "log")
		}
	}

	requiresRestart := []string{}
	cold := []struct {
		name     string
		old, new any
	}{
		{"gateways", d.config.Gateways, newConfig.Gateways},
		{"policy", d.config.Policy, newConfig.Policy},
		{"switches", d.config.Switches, newConfig.Switches},
		{"controller", d.config.Controller, newConfig.Controller},
		{"metrics", d.config.Metrics, newConfig.Metrics},
		{"events", d.config.Events, newConfig.Events},
	}
	for _, c := range cold {
		if !reflect.DeepEqual(c.old, c.new) {
			requiresRestart = append(requiresRestart, c.name)
		}
	}

	slog.Info("configuration reloaded",
		"hot_reloaded", hotReloaded,
		"requires_restart", requiresRestart,
	)
	return nil
}

// TriggerShutdown asks Run to stop.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
		// already pending
	}
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}
	slog.Info("metrics server started",
		"addr", d.metricsServer.Addr(),
		"path", d.config.Metrics.Path,
	)
	return nil
}

// startExporter forwards operator events to Kafka if enabled.
func (d *Daemon) startExporter() error {
	kc := d.config.Events.Kafka
	if !kc.Enabled {
		return nil
	}
	exporter, err := eventbus.NewKafkaExporter(kc.Options(), logpkg.Get())
	if err != nil {
		return err
	}
	if err := exporter.Subscribe(d.bus); err != nil {
		exporter.Close()
		return err
	}
	d.exporter = exporter
	slog.Info("event exporter started", "brokers", kc.Brokers, "topic", kc.Topic)
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}

// ReadPIDFile returns the process ID recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed PID file %s", path)
	}
	return pid, nil
}
