// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Loading layers defaults, an optional YAML file and environment variables.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds each ingest shard queue.
	QueueSize int `koanf:"queue_size"`

	// ShardCount sets the number of ingest shards. Each shard has exactly one
	// worker so events of one match stay in arrival order.
	ShardCount int `koanf:"shard_count"`

	// DedupeSize bounds the event id memory used to drop simulator retries.
	DedupeSize int `koanf:"dedupe_size"`

	// SendBuffer is the per-connection outbound buffer, in messages.
	SendBuffer int `koanf:"send_buffer"`

	// MaxMessageBytes caps inbound websocket frames.
	MaxMessageBytes int64 `koanf:"max_message_bytes"`

	// PingIntervalMS is the websocket keepalive period.
	PingIntervalMS int `koanf:"ping_interval_ms"`

	// AuthToken, when set, is required as a bearer token on /ws.
	AuthToken string `koanf:"auth_token"`

	// SimulatorURL receives StartMatch commands. Empty means no external
	// simulator is wired and start requests are only recorded.
	SimulatorURL string `koanf:"simulator_url"`

	// SimulatorTimeoutMS bounds one call to the simulator.
	SimulatorTimeoutMS int `koanf:"simulator_timeout_ms"`

	// AllowedOrigins is a comma separated list of websocket origins. Empty
	// accepts any origin.
	AllowedOrigins string `koanf:"allowed_origins"`
}

// New creates a Config with defaults. The context is accepted first to
// follow the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		QueueSize:          1_024,
		ShardCount:         runtime.NumCPU(),
		DedupeSize:         50_000,
		SendBuffer:         256,
		MaxMessageBytes:    64 * 1024,
		PingIntervalMS:     54_000,
		SimulatorTimeoutMS: 5_000,
	}
}

// PingInterval returns PingIntervalMS as a duration.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMS) * time.Millisecond
}

// SimulatorTimeout returns SimulatorTimeoutMS as a duration.
func (c *Config) SimulatorTimeout() time.Duration {
	return time.Duration(c.SimulatorTimeoutMS) * time.Millisecond
}

// Origins splits AllowedOrigins into a trimmed list.
func (c *Config) Origins() []string {
	if strings.TrimSpace(c.AllowedOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.ShardCount < 1:
		return fmt.Errorf("%w: shard_count must be positive", ErrInvalidConfig)
	case c.SendBuffer < 1:
		return fmt.Errorf("%w: send_buffer must be positive", ErrInvalidConfig)
	case c.MaxMessageBytes < 512:
		return fmt.Errorf("%w: max_message_bytes must be at least 512", ErrInvalidConfig)
	case c.PingIntervalMS < 100:
		return fmt.Errorf("%w: ping_interval_ms must be at least 100", ErrInvalidConfig)
	case c.SimulatorTimeoutMS < 1:
		return fmt.Errorf("%w: simulator_timeout_ms must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	}
	return nil
}
