// Package config provides configuration loading and management for the
// haystack client and bridge.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/haystack/codec"
	"github.com/c360studio/haystack/session"
)

// Config represents the complete haystack configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Watch  WatchConfig  `yaml:"watch"`
	NATS   NATSConfig   `yaml:"nats"`
	Bridge BridgeConfig `yaml:"bridge"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig identifies the Haystack server and how to talk to it
type ServerConfig struct {
	// URI is the server API root (e.g., "http://localhost:3000/api")
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Token is a bearer token obtained earlier; skips authentication
	Token string `yaml:"token"`
	// Version is the Haystack grid version written in requests
	Version string `yaml:"version"`
	// Content is the request mime type ("text/zinc" or "application/json")
	Content string `yaml:"content"`
	// Accept is the response mime type (defaults to Content)
	Accept string `yaml:"accept"`
}

// WatchConfig configures the standing watch
type WatchConfig struct {
	// Ids are the entities to subscribe
	Ids []string `yaml:"ids"`
	// Columns limits published values (empty = all)
	Columns []string `yaml:"columns"`
	// Lease is requested when the watch opens (e.g., "1min")
	Lease string `yaml:"lease"`
	// PollInterval is the delay between polls (e.g., "5s")
	PollInterval string `yaml:"poll_interval"`
	// Name is the watch display name (empty = generated)
	Name string `yaml:"name"`
}

// NATSConfig configures the NATS connection used by the bridge
type NATSConfig struct {
	URL string `yaml:"url"`
	// Prefix is the subject prefix for updates and requests
	Prefix string `yaml:"prefix"`
	// Bucket is the JetStream KV bucket holding the latest point values
	Bucket string `yaml:"bucket"`
}

// BridgeConfig configures which points the bridge mirrors
type BridgeConfig struct {
	// Include lists glob patterns matched against point ids (empty = all)
	Include []string `yaml:"include"`
	// MetricsAddr is the listen address for /metrics (empty = disabled)
	MetricsAddr string `yaml:"metrics_addr"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URI:     session.DefaultURI,
			Version: session.DefaultVersion,
			Content: session.DefaultContent,
		},
		Watch: WatchConfig{
			Lease:        "1min",
			PollInterval: "5s",
		},
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Prefix: "haystack",
			Bucket: "HAYSTACK_POINTS",
		},
		Bridge: BridgeConfig{
			MetricsAddr: ":9090",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.URI == "" {
		errs = append(errs, fmt.Errorf("server.uri is required"))
	} else if u, err := url.Parse(c.Server.URI); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.uri must be an absolute URL: %q", c.Server.URI))
	}
	for _, ct := range []string{c.Server.Content, c.Server.Accept} {
		if ct == "" {
			continue
		}
		if _, err := codec.ForContent(ct); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
	}
	if c.Watch.Lease != "" {
		if _, err := session.ParseDuration(c.Watch.Lease); err != nil {
			errs = append(errs, fmt.Errorf("watch.lease: %w", err))
		}
	}
	if c.Watch.PollInterval != "" {
		if ms, err := session.ParseDuration(c.Watch.PollInterval); err != nil {
			errs = append(errs, fmt.Errorf("watch.poll_interval: %w", err))
		} else if ms == 0 {
			errs = append(errs, fmt.Errorf("watch.poll_interval must be positive"))
		}
	}
	if c.NATS.Prefix == "" || strings.ContainsAny(c.NATS.Prefix, " *>") {
		errs = append(errs, fmt.Errorf("nats.prefix must be a non-empty subject token: %q", c.NATS.Prefix))
	}
	for _, pattern := range c.Bridge.Include {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("bridge.include: invalid pattern %q", pattern))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error: %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// SessionConfig converts the server and watch settings for session.New.
// Call Validate first; unparsable durations fall back to session defaults.
func (c *Config) SessionConfig() session.Config {
	lease, _ := session.Duration(c.Watch.Lease)
	interval, _ := session.Duration(c.Watch.PollInterval)
	return session.Config{
		URI:          c.Server.URI,
		Username:     c.Server.Username,
		Password:     c.Server.Password,
		Token:        c.Server.Token,
		Version:      c.Server.Version,
		Content:      c.Server.Content,
		Accept:       c.Server.Accept,
		Lease:        lease,
		PollInterval: interval,
		WatchName:    c.Watch.Name,
	}
}

// PollInterval returns the parsed poll interval, or the session default.
func (c *Config) PollInterval() time.Duration {
	d, err := session.Duration(c.Watch.PollInterval)
	if err != nil || d <= 0 {
		return session.DefaultPollInterval
	}
	return d
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// loadOverlay reads a file without defaults, for merging over another config
func loadOverlay(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Credentials may be stored here.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	mergeString(&c.Server.URI, other.Server.URI)
	mergeString(&c.Server.Username, other.Server.Username)
	mergeString(&c.Server.Password, other.Server.Password)
	mergeString(&c.Server.Token, other.Server.Token)
	mergeString(&c.Server.Version, other.Server.Version)
	mergeString(&c.Server.Content, other.Server.Content)
	mergeString(&c.Server.Accept, other.Server.Accept)

	// Watch
	if len(other.Watch.Ids) > 0 {
		c.Watch.Ids = other.Watch.Ids
	}
	if len(other.Watch.Columns) > 0 {
		c.Watch.Columns = other.Watch.Columns
	}
	mergeString(&c.Watch.Lease, other.Watch.Lease)
	mergeString(&c.Watch.PollInterval, other.Watch.PollInterval)
	mergeString(&c.Watch.Name, other.Watch.Name)

	// NATS
	mergeString(&c.NATS.URL, other.NATS.URL)
	mergeString(&c.NATS.Prefix, other.NATS.Prefix)
	mergeString(&c.NATS.Bucket, other.NATS.Bucket)

	// Bridge
	if len(other.Bridge.Include) > 0 {
		c.Bridge.Include = other.Bridge.Include
	}
	mergeString(&c.Bridge.MetricsAddr, other.Bridge.MetricsAddr)

	// Log
	mergeString(&c.Log.Level, other.Log.Level)
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// ContentType maps a format name ("zinc", "json") to its mime type. Other
// values are returned unchanged.
func ContentType(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "zinc":
		return codec.ContentZinc
	case "json":
		return codec.ContentJSON
	}
	return format
}
