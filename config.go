package modelgateway

import (
	"time"

	"github.com/corvid-labs/model-gateway/internal/balancer"
	"github.com/corvid-labs/model-gateway/internal/discovery"
	"github.com/corvid-labs/model-gateway/providers"
)

// Config holds the full gateway configuration.
type Config struct {
	// Providers is the static provider catalog.
	Providers []providers.StaticProvider `json:"providers" yaml:"providers"`
	// Allowlist restricts routing to these provider ids. Empty means all
	// configured providers are allowed.
	Allowlist []string `json:"allowlist,omitempty" yaml:"allowlist,omitempty"`
	// FallbackChain is the static preferred provider order used to break
	// scoring ties in fallback chains.
	FallbackChain []string `json:"fallback_chain,omitempty" yaml:"fallback_chain,omitempty"`
	// LoadBalancing selects the tie-break strategy over equally scored
	// candidates.
	LoadBalancing balancer.Strategy `json:"load_balancing,omitempty" yaml:"load_balancing,omitempty"`
	// MaxRetries caps fallback attempts after the primary. Zero uses the
	// fallback chain's own depth.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// RetryDelay is the pause between failover attempts.
	RetryDelay time.Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	// CooldownPeriod is how long an unhealthy provider is excluded from
	// selection.
	CooldownPeriod time.Duration `json:"cooldown_period,omitempty" yaml:"cooldown_period,omitempty"`
	// CostThreshold drops candidates above this cost-per-token regardless of
	// request limits. Zero disables the threshold.
	CostThreshold float64 `json:"cost_threshold,omitempty" yaml:"cost_threshold,omitempty"`
	// SLA bounds what counts as an acceptable provider once it has history.
	SLA PerformanceSLA `json:"sla,omitempty" yaml:"sla,omitempty"`
	// Cache configures the middleware response cache.
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
	// CircuitBreaker configures the middleware breaker table.
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
	// Aggregation enables multi-model response aggregation.
	Aggregation AggregationConfig `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`
	// Discovery configures runtime provider discovery.
	Discovery DiscoveryConfig `json:"discovery,omitempty" yaml:"discovery,omitempty"`
}

// PerformanceSLA bounds acceptable provider behavior. Both checks apply only
// once a provider has recorded traffic; fresh providers always pass.
type PerformanceSLA struct {
	MaxLatency     time.Duration `json:"max_latency,omitempty" yaml:"max_latency,omitempty"`
	MinSuccessRate float64       `json:"min_success_rate,omitempty" yaml:"min_success_rate,omitempty"`
}

// CacheConfig controls the middleware response cache.
type CacheConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	TTL        time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	MaxEntries int           `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
}

// CircuitBreakerConfig controls the per-model-key breaker table.
type CircuitBreakerConfig struct {
	// Threshold is the consecutive-failure count that opens a circuit.
	Threshold int `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	// Timeout is how long a circuit stays open before probing recovery.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// AggregationConfig controls multi-model response aggregation.
type AggregationConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DiscoveryConfig wraps the discovery service configuration plus the
// gateway-side merge policy.
type DiscoveryConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// PreferDiscovered considers discovered candidates before static ones
	// and breaks scoring ties in their favor.
	PreferDiscovered bool                          `json:"prefer_discovered,omitempty" yaml:"prefer_discovered,omitempty"`
	Endpoints        map[string]providers.Endpoint `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Probing          discovery.Config              `json:"probing,omitempty" yaml:"probing,omitempty"`
}

// applyDefaults fills zero values with production defaults.
func (c *Config) applyDefaults() {
	if c.LoadBalancing == "" {
		c.LoadBalancing = balancer.LeastLatency
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = 60 * time.Second
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 1000
	}
	if c.CircuitBreaker.Threshold <= 0 {
		c.CircuitBreaker.Threshold = 5
	}
	if c.CircuitBreaker.Timeout <= 0 {
		c.CircuitBreaker.Timeout = 30 * time.Second
	}
}
