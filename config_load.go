package modelgateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/corvid-labs/model-gateway/internal/balancer"
)

// configSchema is compiled once and applied to every loaded config. It guards
// the shape of the document; semantic checks live in ValidateConfig.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "providers": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "tier": {"type": "string"},
          "models": {"type": "array"}
        },
        "required": ["id"]
      }
    },
    "allowlist": {"type": "array", "items": {"type": "string"}},
    "fallback_chain": {"type": "array", "items": {"type": "string"}},
    "load_balancing": {
      "type": "string",
      "enum": ["round-robin", "weighted", "least-latency", "adaptive"]
    },
    "max_retries": {"type": "integer", "minimum": 0},
    "cost_threshold": {"type": "number", "minimum": 0},
    "sla": {
      "type": "object",
      "properties": {
        "min_success_rate": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "cache": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "max_entries": {"type": "integer", "minimum": 1}
      }
    },
    "circuit_breaker": {
      "type": "object",
      "properties": {
        "threshold": {"type": "integer", "minimum": 1}
      }
    },
    "aggregation": {
      "type": "object",
      "properties": {"enabled": {"type": "boolean"}}
    },
    "discovery": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "prefer_discovered": {"type": "boolean"},
        "endpoints": {"type": "object"}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("config.schema.json", configSchema)

// LoadConfig reads, parses, and validates a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml). Defaults are applied
// before the config is returned.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	var doc any
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	// Round-trip through JSON so the validator sees canonical JSON types
	// regardless of the source format.
	raw, err := json.Marshal(normalizeKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("canonicalizing config: %w", err)
	}
	var canonical any
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return nil, fmt.Errorf("canonicalizing config: %w", err)
	}
	if err := compiledSchema.Validate(canonical); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// normalizeKeys converts yaml's map[any]any trees into the map[string]any
// form the schema validator expects.
func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeKeys(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalizeKeys(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = normalizeKeys(val)
		}
		return s
	default:
		return v
	}
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg Config) error {
	if len(cfg.Providers) == 0 && !cfg.Discovery.Enabled {
		return fmt.Errorf("at least one provider is required unless discovery is enabled")
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		for _, m := range p.Models {
			if m.Model == "" {
				return fmt.Errorf("provider %q has a model with empty name", p.ID)
			}
			if m.CostPerToken < 0 {
				return fmt.Errorf("provider %q model %q has negative cost per token", p.ID, m.Model)
			}
		}
	}

	switch cfg.LoadBalancing {
	case "", balancer.RoundRobin, balancer.Weighted, balancer.LeastLatency, balancer.Adaptive:
	default:
		return fmt.Errorf("unknown load balancing strategy: %q", cfg.LoadBalancing)
	}

	for _, id := range cfg.FallbackChain {
		if len(cfg.Providers) > 0 && !seen[id] {
			return fmt.Errorf("fallback chain references unknown provider %q", id)
		}
	}

	if cfg.SLA.MinSuccessRate < 0 || cfg.SLA.MinSuccessRate > 1 {
		return fmt.Errorf("sla min_success_rate must be in [0, 1]")
	}

	if cfg.Discovery.Enabled && len(cfg.Discovery.Endpoints) == 0 {
		return fmt.Errorf("discovery is enabled but no endpoints are configured")
	}

	return nil
}
