// Package config loads and validates the runtime's YAML configuration.
//
// Secrets never live in the file: the provider section names the environment
// variable holding the API key. A config fault is terminal and must be fixed
// by the operator, never retried.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docent-ai/docent/geom"
)

// Defaults applied by Load.
const (
	DefaultListenAddr   = ":8080"
	DefaultAPIKeyEnv    = "OPENAI_API_KEY"
	DefaultStoreBackend = "memory"
)

// Duration decodes YAML duration strings like "5s" or "12h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration.
type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	Provider   ProviderConfig  `yaml:"provider"`
	Transport  TransportConfig `yaml:"transport"`
	Store      StoreConfig     `yaml:"store"`
	Page       PageConfig      `yaml:"page"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
}

// ProviderConfig configures the completion service client.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env"`

	// System is the narration directive sent with every turn.
	System string `yaml:"system"`

	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// TransportConfig configures the channel lifecycle.
type TransportConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	TurnTimeout       Duration `yaml:"turn_timeout"`

	// MaxRetries bounds transient-fault retries per turn. Zero takes the
	// transport default; -1 turns retrying off.
	MaxRetries int `yaml:"max_retries"`

	RetryBackoffBase Duration `yaml:"retry_backoff_base"`
	RetryBackoffMax  Duration `yaml:"retry_backoff_max"`
}

// StoreConfig selects and configures the conversation store.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string   `yaml:"backend"`
	Addr    string   `yaml:"addr"`
	TTL     Duration `yaml:"ttl"`
	Prefix  string   `yaml:"prefix"`
}

// PageConfig carries the page coordinate space.
type PageConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Bounds converts the page config to geometry bounds, falling back to the
// default letter-size space.
func (p PageConfig) Bounds() geom.PageBounds {
	if p.Width <= 0 || p.Height <= 0 {
		return geom.DefaultBounds()
	}
	return geom.PageBounds{Width: p.Width, Height: p.Height}
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`

	// ServiceName overrides the resource service name.
	ServiceName string `yaml:"service_name"`
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults, and validates raw YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Provider.APIKeyEnv == "" {
		c.Provider.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultStoreBackend
	}
}

// Validate reports the first configuration fault found.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.Addr == "" {
			return fmt.Errorf("store: redis backend requires addr")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	if c.Transport.HeartbeatInterval < 0 || c.Transport.TurnTimeout < 0 {
		return fmt.Errorf("transport: intervals must not be negative")
	}
	if c.Transport.MaxRetries < -1 {
		return fmt.Errorf("transport: max_retries must be -1, 0, or positive")
	}
	if c.Transport.HeartbeatInterval > 0 && c.Transport.TurnTimeout > 0 &&
		c.Transport.HeartbeatInterval >= c.Transport.TurnTimeout {
		return fmt.Errorf("transport: heartbeat interval must be shorter than the turn timeout")
	}

	if (c.Page.Width > 0) != (c.Page.Height > 0) {
		return fmt.Errorf("page: width and height must be set together")
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry: enabled without an endpoint")
	}
	return nil
}

// APIKey resolves the provider credential from the environment.
func (c *Config) APIKey() string {
	return os.Getenv(c.Provider.APIKeyEnv)
}
