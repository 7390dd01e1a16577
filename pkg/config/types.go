package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"commsync/pkg/models"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Feed     FeedConfig     `yaml:"feed"`
	Poll     PollConfig     `yaml:"poll"`
	Viewport ViewportConfig `yaml:"viewport"`
	Channels []ChannelSpec  `yaml:"channels"`
	Resync   ResyncConfig   `yaml:"resync"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP view-API listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// FeedConfig holds the upstream comm feed endpoint settings.
type FeedConfig struct {
	BaseURL          string    `yaml:"base_url"`
	APIKey           string    `yaml:"api_key"`
	Timeout          Duration  `yaml:"timeout"`
	MaxResponseBytes SizeBytes `yaml:"max_response_bytes"`
}

// PollConfig tunes the background fetch cycle.
type PollConfig struct {
	Interval         Duration `yaml:"interval"`
	AcceleratedDelay Duration `yaml:"accelerated_delay"`
	IdleGrace        Duration `yaml:"idle_grace"`
	RPS              float64  `yaml:"rps"`
	Burst            int      `yaml:"burst"`
}

// ViewportConfig holds the hysteresis margin and an optional startup box.
type ViewportConfig struct {
	PaddingFraction float64        `yaml:"padding_fraction"`
	Initial         *models.Bounds `yaml:"initial"`
}

// ChannelSpec declares one synchronized channel.
type ChannelSpec struct {
	ID             string `yaml:"id"`
	ViewportScoped bool   `yaml:"viewport_scoped"`
	Sendable       bool   `yaml:"sendable"`
}

// ResyncConfig holds configuration for the scheduled full-resync runner.
type ResyncConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "8MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "30s" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
