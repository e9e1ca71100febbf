// Package config loads the service configuration from JSON with
// optional environment overrides. Fields are pointers so a partial
// config file only overrides what it names; the Get* methods supply
// defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the root service configuration. The schema matches
// what a deployment drops next to the binary; all fields are optional.
type Config struct {
	// Sensor connection params
	SensorURL            *string `json:"sensor_url,omitempty"`
	ReconnectBaseDelay   *string `json:"reconnect_base_delay,omitempty"` // duration string like "1s"
	MaxReconnectAttempts *int    `json:"max_reconnect_attempts,omitempty"`
	PingInterval         *string `json:"ping_interval,omitempty"` // "0s" disables pings
	HandshakeTimeout     *string `json:"handshake_timeout,omitempty"`

	// HTTP and storage params
	ListenAddr   *string `json:"listen_addr,omitempty"`
	DatabasePath *string `json:"database_path,omitempty"`

	// Engine params
	HistorySize        *int    `json:"history_size,omitempty"`
	StatsFlushInterval *string `json:"stats_flush_interval,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. Fields omitted from the file
// retain their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays environment variables on top of the loaded config.
// Only connection and deployment knobs are exposed this way; tuning
// stays in the file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ZONEWATCH_SENSOR_URL"); v != "" {
		c.SensorURL = ptrString(v)
	}
	if v := os.Getenv("ZONEWATCH_LISTEN_ADDR"); v != "" {
		c.ListenAddr = ptrString(v)
	}
	if v := os.Getenv("ZONEWATCH_DB_PATH"); v != "" {
		c.DatabasePath = ptrString(v)
	}
}

// Validate checks the configuration for parse errors and out-of-range
// values.
func (c *Config) Validate() error {
	for _, d := range []struct {
		name  string
		value *string
	}{
		{"reconnect_base_delay", c.ReconnectBaseDelay},
		{"ping_interval", c.PingInterval},
		{"handshake_timeout", c.HandshakeTimeout},
		{"stats_flush_interval", c.StatsFlushInterval},
	} {
		if d.value != nil && *d.value != "" {
			if _, err := time.ParseDuration(*d.value); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
			}
		}
	}

	if c.MaxReconnectAttempts != nil && *c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max_reconnect_attempts must be positive, got %d", *c.MaxReconnectAttempts)
	}
	if c.HistorySize != nil && *c.HistorySize < 1 {
		return fmt.Errorf("history_size must be positive, got %d", *c.HistorySize)
	}

	return nil
}

func (c *Config) GetSensorURL() string {
	if c.SensorURL == nil {
		return "ws://localhost:2112/stream" // default
	}
	return *c.SensorURL
}

func (c *Config) GetReconnectBaseDelay() time.Duration {
	return c.duration(c.ReconnectBaseDelay, time.Second)
}

func (c *Config) GetMaxReconnectAttempts() int {
	if c.MaxReconnectAttempts == nil {
		return 10 // default
	}
	return *c.MaxReconnectAttempts
}

func (c *Config) GetPingInterval() time.Duration {
	return c.duration(c.PingInterval, 5*time.Second)
}

func (c *Config) GetHandshakeTimeout() time.Duration {
	return c.duration(c.HandshakeTimeout, 10*time.Second)
}

func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil {
		return ":8090" // default
	}
	return *c.ListenAddr
}

func (c *Config) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return "zonewatch.db" // default
	}
	return *c.DatabasePath
}

func (c *Config) GetHistorySize() int {
	if c.HistorySize == nil {
		return 512 // default
	}
	return *c.HistorySize
}

func (c *Config) GetStatsFlushInterval() time.Duration {
	return c.duration(c.StatsFlushInterval, 30*time.Second)
}

func (c *Config) duration(value *string, def time.Duration) time.Duration {
	if value == nil || *value == "" {
		return def
	}
	d, err := time.ParseDuration(*value)
	if err != nil {
		return def
	}
	return d
}
