package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
listen_addr: ":9090"
provider:
  base_url: https://api.example.com/v1
  model: gpt-4o-mini
  api_key_env: DOCENT_API_KEY
  temperature: 0.5
  requests_per_second: 2
transport:
  heartbeat_interval: 5s
  turn_timeout: 60s
  max_retries: 2
store:
  backend: redis
  addr: localhost:6379
  ttl: 12h
page:
  width: 612
  height: 792
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Provider.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Provider.Model)
	}
	if cfg.Transport.HeartbeatInterval.Std() != 5*time.Second {
		t.Errorf("heartbeat = %v", cfg.Transport.HeartbeatInterval)
	}
	if cfg.Store.TTL.Std() != 12*time.Hour {
		t.Errorf("ttl = %v", cfg.Store.TTL)
	}
	if b := cfg.Page.Bounds(); b.Width != 612 || b.Height != 792 {
		t.Errorf("bounds = %+v", b)
	}
}

func TestParse_RetriesDisabled(t *testing.T) {
	cfg, err := Parse([]byte("transport:\n  max_retries: -1\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Transport.MaxRetries != -1 {
		t.Errorf("max_retries = %d, want -1", cfg.Transport.MaxRetries)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("provider:\n  model: m\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("listen addr default = %q", cfg.ListenAddr)
	}
	if cfg.Provider.APIKeyEnv != DefaultAPIKeyEnv {
		t.Errorf("api key env default = %q", cfg.Provider.APIKeyEnv)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("store backend default = %q", cfg.Store.Backend)
	}
	if b := cfg.Page.Bounds(); b.Width != 612 || b.Height != 792 {
		t.Errorf("default bounds = %+v", b)
	}
}

func TestParse_ValidationFaults(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown store", "store:\n  backend: etcd\n", "unknown backend"},
		{"redis without addr", "store:\n  backend: redis\n", "requires addr"},
		{"heartbeat past timeout", "transport:\n  heartbeat_interval: 90s\n  turn_timeout: 60s\n", "shorter than"},
		{"retries below the off switch", "transport:\n  max_retries: -2\n", "max_retries"},
		{"half a page", "page:\n  width: 612\n", "set together"},
		{"telemetry without endpoint", "telemetry:\n  enabled: true\n", "without an endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docent.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != "redis" {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestAPIKey(t *testing.T) {
	t.Setenv("DOCENT_TEST_KEY", "sk-secret")
	cfg := &Config{Provider: ProviderConfig{APIKeyEnv: "DOCENT_TEST_KEY"}}
	if cfg.APIKey() != "sk-secret" {
		t.Errorf("api key = %q", cfg.APIKey())
	}
}
