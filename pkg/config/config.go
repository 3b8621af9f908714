// Package config provides configuration structures and loading logic for the
// mail TLS client.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the TLS session layer.
type Config struct {
	TLS       TLSConfig       `yaml:"tls"`
	Cache     CacheConfig     `yaml:"session_cache"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TLSConfig holds the client-side TLS engine settings.
type TLSConfig struct {
	// CipherSuites lists cipher suite names to offer. Empty selects the
	// engine defaults. An unknown name is a startup error.
	CipherSuites []string `yaml:"cipher_suites,omitempty"`

	// CAFile and CAPath locate trust anchors in bundle and directory form.
	CAFile string `yaml:"ca_file,omitempty"`
	CAPath string `yaml:"ca_path,omitempty"`

	// CertFile and KeyFile hold an optional client certificate. Both or
	// neither must be set.
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`

	// MinVersion and MaxVersion bound protocol negotiation ("1.0".."1.3").
	// The default minimum is 1.0: offer the oldest greeting and negotiate
	// the strongest mutually supported protocol.
	MinVersion string `yaml:"min_version,omitempty"`
	MaxVersion string `yaml:"max_version,omitempty"`

	// SessionTimeoutSeconds bounds the lifetime of cached sessions.
	SessionTimeoutSeconds int `yaml:"session_timeout_seconds,omitempty"`

	// EntropySeedBytes is the amount of external entropy read at startup.
	EntropySeedBytes int `yaml:"entropy_seed_bytes,omitempty"`

	// Verbosity gates diagnostic detail, 0 (quiet) through 4 (full dump).
	Verbosity int `yaml:"verbosity,omitempty"`
}

// CacheConfig holds the external session cache client settings.
type CacheConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Network        string `yaml:"network,omitempty"` // "unix" or "tcp"
	Address        string `yaml:"address,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

// PolicyConfig maps destinations to TLS security levels.
type PolicyConfig struct {
	// Default is the level applied when no per-site entry matches:
	// none, may, encrypt or verify.
	Default string `yaml:"default,omitempty"`

	// Sites maps a destination (next-hop domain) to a level.
	Sites map[string]string `yaml:"sites,omitempty"`

	// RegoFile optionally points at a Rego module that decides the level.
	RegoFile string `yaml:"rego_file,omitempty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

const (
	defaultEntropySeedBytes = 32
	defaultSessionTimeout   = 3600
	defaultCacheTimeout     = 10
	defaultCacheNetwork     = "unix"
	defaultPolicyLevel      = "may"
)

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		TLS: TLSConfig{
			SessionTimeoutSeconds: defaultSessionTimeout,
			EntropySeedBytes:      defaultEntropySeedBytes,
		},
		Cache: CacheConfig{
			Network:        defaultCacheNetwork,
			TimeoutSeconds: defaultCacheTimeout,
		},
		Policy: PolicyConfig{
			Default: defaultPolicyLevel,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and validates a configuration file. A missing path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.TLS.SessionTimeoutSeconds == 0 {
		cfg.TLS.SessionTimeoutSeconds = defaultSessionTimeout
	}
	if cfg.TLS.EntropySeedBytes == 0 {
		cfg.TLS.EntropySeedBytes = defaultEntropySeedBytes
	}
	if cfg.Cache.Network == "" {
		cfg.Cache.Network = defaultCacheNetwork
	}
	if cfg.Cache.TimeoutSeconds == 0 {
		cfg.Cache.TimeoutSeconds = defaultCacheTimeout
	}
	if cfg.Policy.Default == "" {
		cfg.Policy.Default = defaultPolicyLevel
	}
}

// validateVersion checks that a protocol version string is empty or one of
// the supported values "1.0" through "1.3".
func validateVersion(version string) error {
	switch strings.TrimSpace(version) {
	case "", "1.0", "1.1", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("unknown TLS version %q", version)
	}
}

// Validate checks the configuration for internally inconsistent settings.
func (c *Config) Validate() error {
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls: cert_file and key_file must be set together")
	}
	if err := validateVersion(c.TLS.MinVersion); err != nil {
		return fmt.Errorf("tls: min_version: %w", err)
	}
	if err := validateVersion(c.TLS.MaxVersion); err != nil {
		return fmt.Errorf("tls: max_version: %w", err)
	}
	if c.TLS.Verbosity < 0 || c.TLS.Verbosity > 4 {
		return fmt.Errorf("tls: verbosity must be between 0 and 4, got %d", c.TLS.Verbosity)
	}
	if c.Cache.Enabled && c.Cache.Address == "" {
		return fmt.Errorf("session_cache: address is required when enabled")
	}
	switch c.Cache.Network {
	case "unix", "tcp":
	default:
		return fmt.Errorf("session_cache: unsupported network %q", c.Cache.Network)
	}
	switch strings.ToLower(c.Policy.Default) {
	case "none", "may", "encrypt", "verify":
	default:
		return fmt.Errorf("policy: unknown default level %q", c.Policy.Default)
	}
	for site, level := range c.Policy.Sites {
		switch strings.ToLower(level) {
		case "none", "may", "encrypt", "verify":
		default:
			return fmt.Errorf("policy: unknown level %q for site %q", level, site)
		}
	}
	return nil
}
