package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file.
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Limits    LimitsSection    `toml:"limits"`
	Heartbeat HeartbeatSection `toml:"heartbeat"`
	Metrics   MetricsSection   `toml:"metrics"`
}

type ServerSection struct {
	HTTPPort       int      `toml:"http_port"`
	UpgradePaths   []string `toml:"upgrade_paths"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type LimitsSection struct {
	MaxConnections     int   `toml:"max_connections"`
	MaxFrameBytes      int64 `toml:"max_frame_bytes"`
	SendQueueSize      int   `toml:"send_queue_size"`
	BroadcastQueueSize int   `toml:"broadcast_queue_size"`
}

type HeartbeatSection struct {
	IntervalSeconds     int `toml:"interval_seconds"`
	ProbeTimeoutSeconds int `toml:"probe_timeout_seconds"`
}

type MetricsSection struct {
	WindowMillis           int `toml:"window_millis"`
	EvictIntervalSeconds   int `toml:"evict_interval_seconds"`
	PublishIntervalSeconds int `toml:"publish_interval_seconds"`
}

// DefaultTOMLConfig returns the default TOML configuration.
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPPort:       8080,
			UpgradePaths:   []string{"/ws"},
			AllowedOrigins: []string{"*"},
		},
		Limits: LimitsSection{
			MaxConnections:     1000,
			MaxFrameBytes:      65536,
			SendQueueSize:      256,
			BroadcastQueueSize: 256,
		},
		Heartbeat: HeartbeatSection{
			IntervalSeconds:     30,
			ProbeTimeoutSeconds: 10,
		},
		Metrics: MetricsSection{
			WindowMillis:           1000,
			EvictIntervalSeconds:   1,
			PublishIntervalSeconds: 2,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating the default file
// if it does not exist.
func LoadConfig(path string) (TOMLConfig, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Can't write (likely permissions); defaults still work.
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file.
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# PulseHub Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig, filling gaps with
// defaults.
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	if len(c.Server.UpgradePaths) != 0 {
		cfg.UpgradePaths = c.Server.UpgradePaths
	}
	if len(c.Server.AllowedOrigins) != 0 {
		cfg.AllowedOrigins = c.Server.AllowedOrigins
	}

	if c.Limits.MaxConnections != 0 {
		cfg.MaxConnections = c.Limits.MaxConnections
	}
	if c.Limits.MaxFrameBytes != 0 {
		cfg.MaxFrameBytes = c.Limits.MaxFrameBytes
	}
	if c.Limits.SendQueueSize != 0 {
		cfg.SendQueueSize = c.Limits.SendQueueSize
	}
	if c.Limits.BroadcastQueueSize != 0 {
		cfg.BroadcastQueueSize = c.Limits.BroadcastQueueSize
	}

	if c.Heartbeat.IntervalSeconds != 0 {
		cfg.HeartbeatInterval = time.Duration(c.Heartbeat.IntervalSeconds) * time.Second
	}
	if c.Heartbeat.ProbeTimeoutSeconds != 0 {
		cfg.ProbeTimeout = time.Duration(c.Heartbeat.ProbeTimeoutSeconds) * time.Second
	}

	if c.Metrics.WindowMillis != 0 {
		cfg.MetricsWindow = time.Duration(c.Metrics.WindowMillis) * time.Millisecond
	}
	if c.Metrics.EvictIntervalSeconds != 0 {
		cfg.MetricsEvictInterval = time.Duration(c.Metrics.EvictIntervalSeconds) * time.Second
	}
	if c.Metrics.PublishIntervalSeconds != 0 {
		cfg.MetricsPublishInterval = time.Duration(c.Metrics.PublishIntervalSeconds) * time.Second
	}

	return cfg
}
