package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates server and protocol settings. Values come from
// defaults, then an optional YAML file (WEBIO_CONFIG), then individual
// environment variable overrides.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Poll    PollConfig    `yaml:"poll"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Debug          bool     `yaml:"debug"`
}

// SessionConfig bounds session resources and lifetime.
type SessionConfig struct {
	Expiry        time.Duration `yaml:"expiry"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	QueueSize     int           `yaml:"queue_size"`
}

// PollConfig tunes the HTTP polling transport. PostWait is how long
// the server lingers after an input delivery so the task's immediate
// follow-up commands ride back on the same response.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	PostWait time.Duration `yaml:"post_wait"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Session: SessionConfig{
			Expiry:        60 * time.Second,
			SweepInterval: 20 * time.Second,
			QueueSize:     1000,
		},
		Poll: PollConfig{
			Interval: time.Second,
			Timeout:  10 * time.Second,
			PostWait: 100 * time.Millisecond,
		},
	}
}

// Load builds the effective configuration.
func Load() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("WEBIO_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Session.QueueSize <= 0 {
		return nil, fmt.Errorf("session queue size must be positive, got %d", cfg.Session.QueueSize)
	}
	if cfg.Poll.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", cfg.Poll.Interval)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if strings.Contains(port, ":") {
			cfg.Server.Addr = port
		} else {
			if _, err := strconv.Atoi(port); err != nil {
				return fmt.Errorf("invalid PORT value: %q", port)
			}
			cfg.Server.Addr = ":" + port
		}
	}
	if origins := strings.TrimSpace(os.Getenv("WEBIO_ALLOWED_ORIGINS")); origins != "" {
		cfg.Server.AllowedOrigins = splitTrim(origins)
	}
	if v := strings.TrimSpace(os.Getenv("WEBIO_DEBUG")); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid WEBIO_DEBUG value: %q", v)
		}
		cfg.Server.Debug = debug
	}

	durations := map[string]*time.Duration{
		"WEBIO_SESSION_EXPIRY": &cfg.Session.Expiry,
		"WEBIO_SWEEP_INTERVAL": &cfg.Session.SweepInterval,
		"WEBIO_POLL_INTERVAL":  &cfg.Poll.Interval,
		"WEBIO_POLL_TIMEOUT":   &cfg.Poll.Timeout,
		"WEBIO_POST_WAIT":      &cfg.Poll.PostWait,
	}
	for key, dst := range durations {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s value: %q", key, v)
		}
		*dst = d
	}

	if v := strings.TrimSpace(os.Getenv("WEBIO_QUEUE_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid WEBIO_QUEUE_SIZE value: %q", v)
		}
		cfg.Session.QueueSize = n
	}

	return nil
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
