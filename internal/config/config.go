// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/flowgate/internal/acl"
	"firestige.xyz/flowgate/internal/controller"
	"firestige.xyz/flowgate/internal/core"
	"firestige.xyz/flowgate/internal/eventbus"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `flowgate:` root key in YAML.
type GlobalConfig struct {
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Control    ControlConfig    `mapstructure:"control"`
	Events     EventsConfig     `mapstructure:"events"`
	Controller ControllerConfig `mapstructure:"controller"`
	Gateways   []GatewayConfig  `mapstructure:"gateways"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Switches   []SwitchConfig   `mapstructure:"switches"`
}

// ─── Control ───

// ControlConfig contains local process settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file"` // empty = no PID file
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Operator events ───

// EventsConfig sizes the in-memory operator event bus.
type EventsConfig struct {
	Partitions int         `mapstructure:"partitions"`
	QueueSize  int         `mapstructure:"queue_size"`
	Kafka      KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig exports operator events to a Kafka topic.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none|gzip|snappy|lz4
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// ─── Controller ───

// ControllerConfig holds the tuning shared by every switch instance.
type ControllerConfig struct {
	IdleTimeout  int            `mapstructure:"idle_timeout"` // seconds
	HardTimeout  int            `mapstructure:"hard_timeout"` // seconds
	QueueSize    int            `mapstructure:"queue_size"`
	TickInterval time.Duration  `mapstructure:"tick_interval"`
	ARP          ARPConfig      `mapstructure:"arp"`
	Learning     LearningConfig `mapstructure:"learning"`
}

// ARPConfig tunes address resolution.
type ARPConfig struct {
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
	MaxQueued     int           `mapstructure:"max_queued"`
	ProbeMAC      string        `mapstructure:"probe_mac"`
	// UnicastReplies sends host ARP replies to the learned port of their
	// target instead of flooding them.
	UnicastReplies bool `mapstructure:"unicast_replies"`
}

// LearningConfig bounds the address learning table.
type LearningConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
}

// ─── Topology ───

// GatewayConfig is one virtual router interface. Subnet defaults to the
// /24 around IP.
type GatewayConfig struct {
	IP     string `mapstructure:"ip"`
	MAC    string `mapstructure:"mac"`
	Subnet string `mapstructure:"subnet"`
}

// PolicyConfig is the ACL. Rules may come inline or from File, not both.
type PolicyConfig struct {
	Default string         `mapstructure:"default"` // permit / deny
	File    string         `mapstructure:"file"`
	Rules   []acl.RuleSpec `mapstructure:"rules"`
}

// SwitchConfig describes one switch connection.
type SwitchConfig struct {
	Name   string       `mapstructure:"name"`
	Mode   string       `mapstructure:"mode"` // l2 / l2-firewall / l3
	Source SourceConfig `mapstructure:"source"`
	// Output is where control-channel calls go: "log", "discard", or a
	// file path receiving JSON lines.
	Output string `mapstructure:"output"`
}

// Frame source types.
const (
	SourceFile     = "file"
	SourceAFPacket = "afpacket"
)

// SourceConfig selects where a switch's packet-ins come from.
type SourceConfig struct {
	Type string `mapstructure:"type"` // file / afpacket
	// Port is the ingress port of every frame read from a classic pcap file
	// or a live device.
	Port int `mapstructure:"port"`

	Path string `mapstructure:"path"` // file

	Device      string `mapstructure:"device"` // afpacket
	SnapLen     int    `mapstructure:"snap_len"`
	BufferMB    int    `mapstructure:"buffer_mb"`
	ControlOnly bool   `mapstructure:"control_only"`
	Filter      string `mapstructure:"filter"` // tcpdump expression
}

// Channel outputs with a fixed meaning.
const (
	OutputLog     = "log"
	OutputDiscard = "discard"
)

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `flowgate: ...`.
type configRoot struct {
	Flowgate GlobalConfig `mapstructure:"flowgate"`
}

// Load loads configuration from file.
// The YAML file uses `flowgate:` as root key; env vars map through the key
// replacer (e.g. FLOWGATE_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// key "flowgate.log.level" → env "FLOWGATE_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Flowgate

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "flowgate." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("flowgate.log.level", "info")
	v.SetDefault("flowgate.log.format", "json")
	v.SetDefault("flowgate.log.outputs.file.enabled", false)
	v.SetDefault("flowgate.log.outputs.file.path", "/var/log/flowgate/flowgate.log")
	v.SetDefault("flowgate.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("flowgate.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("flowgate.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("flowgate.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("flowgate.metrics.enabled", true)
	v.SetDefault("flowgate.metrics.listen", ":9091")
	v.SetDefault("flowgate.metrics.path", "/metrics")

	v.SetDefault("flowgate.control.pid_file", "")

	// Event bus defaults
	v.SetDefault("flowgate.events.partitions", 4)
	v.SetDefault("flowgate.events.queue_size", 256)
	v.SetDefault("flowgate.events.kafka.enabled", false)
	v.SetDefault("flowgate.events.kafka.topic", eventbus.DefaultKafkaTopic)
	v.SetDefault("flowgate.events.kafka.batch_size", eventbus.DefaultKafkaBatchSize)
	v.SetDefault("flowgate.events.kafka.batch_timeout", eventbus.DefaultKafkaBatchTimeout)
	v.SetDefault("flowgate.events.kafka.compression", eventbus.DefaultKafkaCompression)
	v.SetDefault("flowgate.events.kafka.max_attempts", eventbus.DefaultKafkaMaxAttempts)

	// Controller defaults
	v.SetDefault("flowgate.controller.idle_timeout", int(core.DefaultIdleTimeout))
	v.SetDefault("flowgate.controller.hard_timeout", int(core.DefaultHardTimeout))
	v.SetDefault("flowgate.controller.queue_size", controller.DefaultQueueSize)
	v.SetDefault("flowgate.controller.tick_interval", controller.DefaultTickInterval)
	v.SetDefault("flowgate.controller.arp.retry_interval", time.Second)
	v.SetDefault("flowgate.controller.arp.max_retries", 3)
	v.SetDefault("flowgate.controller.arp.max_queued", 8)
	v.SetDefault("flowgate.controller.arp.probe_mac", "00:00:00:00:00:01")
	v.SetDefault("flowgate.controller.arp.unicast_replies", false)
	v.SetDefault("flowgate.controller.learning.max_entries", 4096)

	v.SetDefault("flowgate.policy.default", "permit")
}

// ValidateAndApplyDefaults validates configuration and fills per-switch
// defaults. Topology and policy are compiled once here so that a bad
// gateway or rule fails the load rather than the first packet.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("log.outputs.file.path is required when file output is enabled")
	}

	// ── Operator events ──
	if cfg.Events.Kafka.Enabled {
		opts := cfg.Events.Kafka.Options()
		if err := opts.Validate(); err != nil {
			return fmt.Errorf("%w: events.%v", core.ErrConfigInvalid, err)
		}
	}

	// ── Controller ──
	c := &cfg.Controller
	for name, v := range map[string]int{"idle_timeout": c.IdleTimeout, "hard_timeout": c.HardTimeout} {
		if v < 0 || v > 0xffff {
			return fmt.Errorf("%w: controller.%s %d out of range 0-65535", core.ErrConfigInvalid, name, v)
		}
	}
	if _, err := c.ResolverConfig(); err != nil {
		return err
	}

	// ── Topology and policy ──
	if _, err := cfg.GatewayRegistry(); err != nil {
		return err
	}
	if cfg.Policy.File != "" && len(cfg.Policy.Rules) > 0 {
		return fmt.Errorf("%w: policy.file and policy.rules are mutually exclusive", core.ErrConfigInvalid)
	}
	if _, err := cfg.CompilePolicy(); err != nil {
		return err
	}

	// ── Switches ──
	if len(cfg.Switches) == 0 {
		return fmt.Errorf("%w: at least one switch is required", core.ErrConfigInvalid)
	}
	seen := make(map[string]bool, len(cfg.Switches))
	for i := range cfg.Switches {
		sw := &cfg.Switches[i]
		if sw.Name == "" {
			return fmt.Errorf("%w: switches[%d].name is required", core.ErrConfigInvalid, i)
		}
		if seen[sw.Name] {
			return fmt.Errorf("%w: duplicate switch %q", core.ErrConfigInvalid, sw.Name)
		}
		seen[sw.Name] = true
		if err := sw.applyDefaults(); err != nil {
			return fmt.Errorf("switch %q: %w", sw.Name, err)
		}
	}
	return nil
}

func (sw *SwitchConfig) applyDefaults() error {
	mode, err := controller.ParseMode(sw.Mode)
	if err != nil {
		return err
	}
	sw.Mode = string(mode)
	if sw.Output == "" {
		sw.Output = OutputLog
	}

	src := &sw.Source
	if src.Type == "" {
		src.Type = SourceFile
	}
	if src.Port < 0 || int64(src.Port) > math.MaxUint32 {
		return fmt.Errorf("%w: source.port %d out of range", core.ErrConfigInvalid, src.Port)
	}
	switch src.Type {
	case SourceFile:
		// Path may be supplied on the command line for replay.
	case SourceAFPacket:
		if src.Device == "" {
			return fmt.Errorf("%w: source.device is required for afpacket", core.ErrConfigInvalid)
		}
		if src.ControlOnly && src.Filter != "" {
			return fmt.Errorf("%w: source.control_only and source.filter are mutually exclusive", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported source.type %q (must be file/afpacket)", core.ErrConfigInvalid, src.Type)
	}
	return nil
}

// Switch returns the named switch.
func (cfg *GlobalConfig) Switch(name string) (SwitchConfig, bool) {
	for _, sw := range cfg.Switches {
		if sw.Name == name {
			return sw, true
		}
	}
	return SwitchConfig{}, false
}

// SwitchNames lists the configured switches in file order.
func (cfg *GlobalConfig) SwitchNames() []string {
	names := make([]string, len(cfg.Switches))
	for i, sw := range cfg.Switches {
		names[i] = sw.Name
	}
	return names
}
