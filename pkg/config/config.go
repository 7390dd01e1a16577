package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr    string
	FeedURL string
	Config  string
	Set     map[string]bool
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	feedPtr := flag.String("feed", "", "Comm feed base URL")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, FeedURL: *feedPtr, Config: *cfgPtr, Set: setFlags}
}

// Addr returns host:port for the HTTP view API.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// ApplyDefaults fills unset fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Feed.BaseURL == "" {
		c.Feed.BaseURL = "http://127.0.0.1:8090"
	}
	if c.Feed.Timeout.Duration() <= 0 {
		c.Feed.Timeout = Duration(15 * time.Second)
	}
	if c.Feed.MaxResponseBytes <= 0 {
		c.Feed.MaxResponseBytes = SizeBytes(8 << 20)
	}
	if c.Poll.Interval.Duration() <= 0 {
		c.Poll.Interval = Duration(30 * time.Second)
	}
	if c.Poll.AcceleratedDelay.Duration() <= 0 {
		c.Poll.AcceleratedDelay = Duration(2 * time.Second)
	}
	if c.Poll.IdleGrace.Duration() <= 0 {
		c.Poll.IdleGrace = Duration(5 * time.Minute)
	}
	if c.Poll.RPS <= 0 {
		c.Poll.RPS = 1
	}
	if c.Poll.Burst <= 0 {
		c.Poll.Burst = 5
	}
	if c.Viewport.PaddingFraction <= 0 {
		c.Viewport.PaddingFraction = 0.1
	}
	if c.Resync.Cron == "" {
		c.Resync.Cron = "0 4 * * *"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// returns whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("COMMSYNC_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	} else {
		if host := os.Getenv("COMMSYNC_ADDRESS"); host != "" {
			envUsed = true
			cfg.Server.Address = host
		}
		if port := os.Getenv("COMMSYNC_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			}
		}
	}

	if v := os.Getenv("COMMSYNC_FEED_URL"); v != "" {
		envUsed = true
		cfg.Feed.BaseURL = v
	}
	if v := os.Getenv("COMMSYNC_FEED_API_KEY"); v != "" {
		envUsed = true
		cfg.Feed.APIKey = v
	}
	if v := os.Getenv("COMMSYNC_FEED_TIMEOUT"); v != "" {
		if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Feed.Timeout = Duration(td)
		}
	}
	if v := os.Getenv("COMMSYNC_POLL_INTERVAL"); v != "" {
		if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Poll.Interval = Duration(td)
		}
	}
	if v := os.Getenv("COMMSYNC_POLL_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Poll.RPS = f
		}
	}
	if v := os.Getenv("COMMSYNC_POLL_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Poll.Burst = n
		}
	}
	if v := os.Getenv("COMMSYNC_IDLE_GRACE"); v != "" {
		if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Poll.IdleGrace = Duration(td)
		}
	}
	if v := os.Getenv("COMMSYNC_RESYNC_CRON"); v != "" {
		envUsed = true
		cfg.Resync.Cron = v
		cfg.Resync.Enabled = true
	}
	if v := os.Getenv("COMMSYNC_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}

	return envUsed
}

// LoadEffective loads config from the given path and applies environment
// overrides and defaults. A missing file is not fatal; env and defaults
// alone produce a working config.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		if strings.Contains(err.Error(), "config file not found") {
			cfg = &Config{}
		} else {
			return nil, false, err
		}
	}
	envUsed := LoadEnvOverrides(cfg)
	cfg.ApplyDefaults()
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `COMMSYNC_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("COMMSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
