package modelgateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvid-labs/model-gateway/internal/balancer"
	"github.com/corvid-labs/model-gateway/providers"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validYAML = `
providers:
  - id: openai
    name: OpenAI
    tier: standard
    models:
      - model: gpt-4o
        capabilities: [chat, vision, tools]
        cost_per_token: 0.00001
        context_window: 128000
        tier: premium
      - model: gpt-4o-mini
        capabilities: [chat]
        cost_per_token: 0.0000006
  - id: bedrock
    models:
      - model: claude-sonnet
        capabilities: [chat, tools]
        cost_per_token: 0.000003
load_balancing: least-latency
fallback_chain: [openai, bedrock]
cache:
  enabled: true
  max_entries: 500
circuit_breaker:
  threshold: 3
`

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", validYAML)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfg.Providers))
	}
	if cfg.Providers[0].Models[0].Model != "gpt-4o" {
		t.Fatalf("first model = %q", cfg.Providers[0].Models[0].Model)
	}
	if cfg.LoadBalancing != balancer.LeastLatency {
		t.Fatalf("load balancing = %q", cfg.LoadBalancing)
	}
	if !cfg.Cache.Enabled || cfg.Cache.MaxEntries != 500 {
		t.Fatalf("cache config = %+v", cfg.Cache)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
providers:
  - id: openai
    models:
      - model: gpt-4o
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CooldownPeriod != 60*time.Second {
		t.Fatalf("CooldownPeriod default = %s", cfg.CooldownPeriod)
	}
	if cfg.CircuitBreaker.Threshold != 5 || cfg.CircuitBreaker.Timeout != 30*time.Second {
		t.Fatalf("breaker defaults = %+v", cfg.CircuitBreaker)
	}
	if cfg.Cache.TTL != 5*time.Minute || cfg.Cache.MaxEntries != 1000 {
		t.Fatalf("cache defaults = %+v", cfg.Cache)
	}
	if cfg.LoadBalancing != balancer.LeastLatency {
		t.Fatalf("default strategy = %q", cfg.LoadBalancing)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfig(t, "gateway.json", `{
  "providers": [
    {"id": "openai", "models": [{"model": "gpt-4o", "cost_per_token": 0.00001}]}
  ],
  "load_balancing": "round-robin"
}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LoadBalancing != balancer.RoundRobin {
		t.Fatalf("load balancing = %q", cfg.LoadBalancing)
	}
}

func TestLoadConfigUnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "gateway.toml", "providers = []")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigSchemaRejectsBadStrategy(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
providers:
  - id: openai
    models:
      - model: gpt-4o
load_balancing: random
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected schema error for unknown strategy")
	}
}

func TestValidateConfig(t *testing.T) {
	base := func() Config {
		return Config{
			Providers: []providers.StaticProvider{
				{ID: "openai", Models: []providers.ModelInfo{{Model: "gpt-4o"}}},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"no providers no discovery", func(c *Config) { c.Providers = nil }, true},
		{"duplicate provider id", func(c *Config) {
			c.Providers = append(c.Providers, c.Providers[0])
		}, true},
		{"empty provider id", func(c *Config) { c.Providers[0].ID = "" }, true},
		{"empty model name", func(c *Config) { c.Providers[0].Models[0].Model = "" }, true},
		{"negative cost", func(c *Config) { c.Providers[0].Models[0].CostPerToken = -1 }, true},
		{"unknown strategy", func(c *Config) { c.LoadBalancing = "random" }, true},
		{"fallback chain unknown provider", func(c *Config) { c.FallbackChain = []string{"ghost"} }, true},
		{"sla out of range", func(c *Config) { c.SLA.MinSuccessRate = 1.5 }, true},
		{"discovery without endpoints", func(c *Config) { c.Discovery.Enabled = true }, true},
		{"discovery only", func(c *Config) {
			c.Providers = nil
			c.Discovery.Enabled = true
			c.Discovery.Endpoints = map[string]providers.Endpoint{
				"local": {BaseURL: "http://localhost:8081", HealthEndpoint: "/health"},
			}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
