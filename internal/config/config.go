// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"firestige.xyz/tcpgeek/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `tcpgeek:` root key in YAML.
type GlobalConfig struct {
	Node    NodeConfig    `mapstructure:"node" yaml:"node"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Stats   StatsConfig   `mapstructure:"stats" yaml:"stats"`
	Control ControlConfig `mapstructure:"control" yaml:"control"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ─── Node Identity ───

// NodeConfig identifies this probe in exported records.
type NodeConfig struct {
	InstanceID string `mapstructure:"instance_id" yaml:"instance_id"` // Empty = random UUID per start
	Hostname   string `mapstructure:"hostname" yaml:"hostname"`       // Empty = os.Hostname()
}

// ─── Engine ───

// EngineConfig contains the session engine parameters.
type EngineConfig struct {
	Granularity  time.Duration `mapstructure:"granularity" yaml:"granularity"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxSessions  int           `mapstructure:"max_sessions" yaml:"max_sessions"` // per protocol, 0 = unbounded
	DedupWindow  int           `mapstructure:"dedup_window" yaml:"dedup_window"`
	DedupTimeout time.Duration `mapstructure:"dedup_timeout" yaml:"dedup_timeout"`
	ServicePorts string        `mapstructure:"service_ports" yaml:"service_ports"` // "80,443,8080"
	LocalSubnets string        `mapstructure:"local_subnets" yaml:"local_subnets"` // "10.0.0.0/8,192.168.0.0/16"
	DebugPackets bool          `mapstructure:"debug_packets" yaml:"debug_packets"` // log every packet classification
}

// ─── Capture ───

// CaptureConfig selects and tunes the packet source. A file takes precedence
// over a device.
type CaptureConfig struct {
	File         string        `mapstructure:"file" yaml:"file"`
	Device       string        `mapstructure:"device" yaml:"device"`
	Engine       string        `mapstructure:"engine" yaml:"engine"` // pcap | afpacket
	BPFFilter    string        `mapstructure:"bpf_filter" yaml:"bpf_filter"`
	Promiscuous  bool          `mapstructure:"promiscuous" yaml:"promiscuous"`
	SnapLen      int           `mapstructure:"snap_len" yaml:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FanoutID     uint16        `mapstructure:"fanout_id" yaml:"fanout_id"` // afpacket only, 0 = no fanout
}

// ─── Statistics ───

// StatsConfig configures where statistics records go.
type StatsConfig struct {
	// Shorthand for a file sink in snapshot mode; ignored when Sinks already
	// lists a file sink.
	FileTemplate   string       `mapstructure:"file_template" yaml:"file_template"`
	RetentionHours int          `mapstructure:"retention_hours" yaml:"retention_hours"`
	Ownership      string       `mapstructure:"ownership" yaml:"ownership"` // user:group
	Sinks          []SinkConfig `mapstructure:"sinks" yaml:"sinks"`
}

// SinkConfig selects a registered sink type and its options.
type SinkConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane and self monitoring settings.
type ControlConfig struct {
	Socket         string `mapstructure:"socket" yaml:"socket"`
	PIDFile        string `mapstructure:"pid_file" yaml:"pid_file"`
	RestartOnDrops bool   `mapstructure:"restart_on_drops" yaml:"restart_on_drops"` // stop when the OS dropped packets
	MaxMemoryKB    uint64 `mapstructure:"max_memory_kb" yaml:"max_memory_kb"`       // 0 = unlimited
}

// ─── Metrics ───

// MetricsConfig contains the HTTP server settings for metrics, status and
// the websocket feed.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `tcpgeek: ...`.
type configRoot struct {
	TCPGeek GlobalConfig `mapstructure:"tcpgeek"`
}

// Load loads configuration from file. An empty path yields the defaults.
// The YAML file uses `tcpgeek:` as root key; env vars use the TCPGEEK_ prefix
// (e.g., TCPGEEK_ENGINE_MAX_SESSIONS).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `tcpgeek.` key prefix maps to `TCPGEEK_` through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.TCPGeek

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "tcpgeek." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("tcpgeek.node.instance_id", "")
	v.SetDefault("tcpgeek.node.hostname", "")

	// Engine defaults
	v.SetDefault("tcpgeek.engine.granularity", "60s")
	v.SetDefault("tcpgeek.engine.idle_timeout", "120s")
	v.SetDefault("tcpgeek.engine.max_sessions", 100000)
	v.SetDefault("tcpgeek.engine.dedup_window", 8)
	v.SetDefault("tcpgeek.engine.dedup_timeout", "2s")
	v.SetDefault("tcpgeek.engine.service_ports", "")
	v.SetDefault("tcpgeek.engine.local_subnets", "")
	v.SetDefault("tcpgeek.engine.debug_packets", false)

	// Capture defaults
	v.SetDefault("tcpgeek.capture.file", "")
	v.SetDefault("tcpgeek.capture.device", "")
	v.SetDefault("tcpgeek.capture.engine", "pcap")
	v.SetDefault("tcpgeek.capture.bpf_filter", "")
	v.SetDefault("tcpgeek.capture.promiscuous", true)
	v.SetDefault("tcpgeek.capture.snap_len", 128)
	v.SetDefault("tcpgeek.capture.buffer_size_mb", 64)
	v.SetDefault("tcpgeek.capture.timeout", "1s")
	v.SetDefault("tcpgeek.capture.fanout_id", 0)

	// Statistics defaults
	v.SetDefault("tcpgeek.stats.file_template", "")
	v.SetDefault("tcpgeek.stats.retention_hours", 0)
	v.SetDefault("tcpgeek.stats.ownership", "")

	// Control defaults
	v.SetDefault("tcpgeek.control.socket", "/var/run/tcpgeek.sock")
	v.SetDefault("tcpgeek.control.pid_file", "/var/run/tcpgeek.pid")
	v.SetDefault("tcpgeek.control.restart_on_drops", false)
	v.SetDefault("tcpgeek.control.max_memory_kb", 0)

	// Metrics defaults
	v.SetDefault("tcpgeek.metrics.enabled", true)
	v.SetDefault("tcpgeek.metrics.listen", ":9091")
	v.SetDefault("tcpgeek.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("tcpgeek.log.level", "info")
	v.SetDefault("tcpgeek.log.format", "json")
	v.SetDefault("tcpgeek.log.outputs.file.enabled", false)
	v.SetDefault("tcpgeek.log.outputs.file.path", "/var/log/tcpgeek/tcpgeek.log")
	v.SetDefault("tcpgeek.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("tcpgeek.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("tcpgeek.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("tcpgeek.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Node identity ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}
	if cfg.Node.InstanceID == "" {
		cfg.Node.InstanceID = uuid.NewString()
	}

	if err := cfg.Engine.validate(); err != nil {
		return err
	}

	// ── Capture ──
	if cfg.Capture.Engine != "pcap" && cfg.Capture.Engine != "afpacket" {
		return fmt.Errorf("%w: unsupported capture.engine: %s (must be pcap/afpacket)", core.ErrConfigInvalid, cfg.Capture.Engine)
	}
	if cfg.Capture.SnapLen <= 0 {
		return fmt.Errorf("%w: capture.snap_len must be positive", core.ErrConfigInvalid)
	}

	// ── Statistics ──
	if cfg.Stats.FileTemplate != "" && !cfg.Stats.hasSink("file") {
		cfg.Stats.Sinks = append(cfg.Stats.Sinks, SinkConfig{
			Type: "file",
			Options: map[string]any{
				"template":        cfg.Stats.FileTemplate,
				"retention_hours": cfg.Stats.RetentionHours,
				"owner":           cfg.Stats.Ownership,
			},
		})
	}
	for i, s := range cfg.Stats.Sinks {
		if s.Type == "" {
			return fmt.Errorf("%w: stats.sinks[%d].type is required", core.ErrConfigInvalid, i)
		}
	}
	if cfg.Stats.Ownership != "" && !strings.Contains(cfg.Stats.Ownership, ":") {
		return fmt.Errorf("%w: stats.ownership must be user:group", core.ErrConfigInvalid)
	}

	return nil
}

func (s *StatsConfig) hasSink(typ string) bool {
	for _, sink := range s.Sinks {
		if sink.Type == typ {
			return true
		}
	}
	return false
}
