// Package discovery maintains a live registry of providers found by
// periodically probing externally configured endpoints. It is the sole
// writer of discovered-provider health: the gateway reads snapshots of the
// registry on demand, or subscribes to health-change events.
//
// Probe failures never propagate out of the service; they are logged and
// counted toward the unhealthy threshold.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/corvid-labs/model-gateway/internal/logging"
	"github.com/corvid-labs/model-gateway/internal/metrics"
	"github.com/corvid-labs/model-gateway/providers"
)

// SourceProbe and SourceManual identify how a provider entered the registry.
const (
	SourceProbe  = "probe"
	SourceManual = "manual"
)

// DiscoveredProvider is one entry in the live registry.
type DiscoveredProvider struct {
	ID           string                   `json:"id"`
	Name         string                   `json:"name"`
	Models       []providers.ModelInfo    `json:"models"`
	Health       providers.ProviderHealth `json:"health"`
	Capabilities []providers.Capability   `json:"capabilities"`
	Tier         providers.CostTier       `json:"tier"`
	Source       string                   `json:"source"`
	Endpoint     providers.Endpoint       `json:"endpoint"`
	DiscoveredAt time.Time                `json:"discovered_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// HealthChanged is emitted on every status transition of a discovered
// provider.
type HealthChanged struct {
	ProviderID string
	OldStatus  providers.HealthStatus
	NewStatus  providers.HealthStatus
}

// Config tunes the probe loop.
type Config struct {
	// Interval between probe cycles.
	Interval time.Duration `json:"interval" yaml:"interval"`
	// MaxConcurrentHealthChecks bounds in-flight probes per cycle.
	MaxConcurrentHealthChecks int `json:"max_concurrent_health_checks" yaml:"max_concurrent_health_checks"`
	// UnhealthyThreshold is the number of consecutive failed probes that
	// flips a provider to unhealthy.
	UnhealthyThreshold int `json:"unhealthy_threshold" yaml:"unhealthy_threshold"`
	// HealthCheckBackoff is the base cooldown applied on the first failure
	// past the threshold; it doubles per further consecutive failure.
	HealthCheckBackoff time.Duration `json:"health_check_backoff" yaml:"health_check_backoff"`
	// RecoveryCheckInterval caps the exponential backoff.
	RecoveryCheckInterval time.Duration `json:"recovery_check_interval" yaml:"recovery_check_interval"`
	// ProbeTimeout bounds a single probe request.
	ProbeTimeout time.Duration `json:"probe_timeout" yaml:"probe_timeout"`
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxConcurrentHealthChecks <= 0 {
		c.MaxConcurrentHealthChecks = 5
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = 3
	}
	if c.HealthCheckBackoff <= 0 {
		c.HealthCheckBackoff = 10 * time.Second
	}
	if c.RecoveryCheckInterval <= 0 {
		c.RecoveryCheckInterval = 5 * time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

type endpointEntry struct {
	id       string
	endpoint providers.Endpoint
	client   *http.Client
	defaults providers.ModelInfo
}

// Service discovers providers and tracks their health.
type Service struct {
	mu        sync.RWMutex
	cfg       Config
	clock     clock.Clock
	endpoints map[string]*endpointEntry
	registry  map[string]*DiscoveredProvider
	failures  map[string]int
	subs      []chan HealthChanged
	cancel    context.CancelFunc
	running   bool
	probe     func(ctx context.Context, client *http.Client, ep providers.Endpoint) (*providers.HealthReport, error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a clock for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithProbeFunc replaces the HTTP health probe; tests use this to simulate
// endpoint behavior without a server.
func WithProbeFunc(fn func(ctx context.Context, client *http.Client, ep providers.Endpoint) (*providers.HealthReport, error)) Option {
	return func(s *Service) { s.probe = fn }
}

// NewService creates a discovery service. Endpoints are added with
// AddEndpoint before Start.
func NewService(cfg Config, opts ...Option) *Service {
	cfg.applyDefaults()
	s := &Service{
		cfg:       cfg,
		clock:     clock.New(),
		endpoints: make(map[string]*endpointEntry),
		registry:  make(map[string]*DiscoveredProvider),
		failures:  make(map[string]int),
		probe:     providers.ProbeHealth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddEndpoint registers a probeable endpoint. defaults supplies the
// capability/cost metadata attached to models enumerated from the endpoint.
func (s *Service) AddEndpoint(id string, ep providers.Endpoint, defaults providers.ModelInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[id] = &endpointEntry{
		id:       id,
		endpoint: ep,
		client:   ep.Auth.HTTPClient(context.Background()),
		defaults: defaults,
	}
}

// RegisterProvider adds a provider directly, bypassing the probe cycle.
// Used for providers discovered through other channels (e.g. a service
// mesh). Subsequent probe cycles keep its health current if an endpoint with
// the same id exists.
func (s *Service) RegisterProvider(dp DiscoveredProvider) {
	now := s.clock.Now()
	if dp.Source == "" {
		dp.Source = SourceManual
	}
	if dp.DiscoveredAt.IsZero() {
		dp.DiscoveredAt = now
	}
	dp.UpdatedAt = now
	if dp.Health.Status == "" {
		dp.Health.Status = providers.StatusHealthy
		dp.Health.SuccessRate = 1.0
	}

	s.mu.Lock()
	old, existed := s.registry[dp.ID]
	s.registry[dp.ID] = &dp
	s.mu.Unlock()

	if existed && old.Health.Status != dp.Health.Status {
		s.emit(HealthChanged{ProviderID: dp.ID, OldStatus: old.Health.Status, NewStatus: dp.Health.Status})
	}
}

// Start begins the periodic probe loop. It returns an error if the service
// is already running. The loop stops when Stop is called or ctx is
// cancelled; the registry stays readable afterwards.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("discovery already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	go s.run(loopCtx)
	return nil
}

// Stop cancels the probe loop. The last-known registry remains readable.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
}

func (s *Service) run(ctx context.Context) {
	log := logging.FromContext(ctx)
	s.runCycle(ctx)
	ticker := s.clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("discovery stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle probes every endpoint, bounded by the concurrency semaphore.
// Providers still inside their recovery backoff are skipped this cycle.
func (s *Service) runCycle(ctx context.Context) {
	s.mu.RLock()
	entries := make([]*endpointEntry, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		if dp, ok := s.registry[e.id]; ok && dp.Health.InCooldown(s.clock.Now()) {
			continue
		}
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sem := make(chan struct{}, s.cfg.MaxConcurrentHealthChecks)
	var wg sync.WaitGroup
	for _, entry := range entries {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(e *endpointEntry) {
			defer wg.Done()
			defer func() { <-sem }()
			s.probeOne(ctx, e)
		}(entry)
	}
	wg.Wait()
}

func (s *Service) probeOne(ctx context.Context, e *endpointEntry) {
	log := logging.FromContext(ctx)
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	report, err := s.probe(probeCtx, e.client, e.endpoint)
	if err != nil {
		metrics.DiscoveryProbes.WithLabelValues(e.id, "failure").Inc()
		log.Warn("health probe failed", "provider", e.id, "error", err.Error())
		s.recordFailedProbe(e.id, e.endpoint)
		return
	}
	metrics.DiscoveryProbes.WithLabelValues(e.id, "success").Inc()
	s.recordSuccessfulProbe(ctx, e, report)
}

func (s *Service) recordSuccessfulProbe(ctx context.Context, e *endpointEntry, report *providers.HealthReport) {
	now := s.clock.Now()
	latency := time.Duration(report.AverageLatency) * time.Millisecond
	status := providers.ClassifyHealth(report.SuccessRate, latency)

	s.mu.Lock()
	s.failures[e.id] = 0
	dp, existed := s.registry[e.id]
	if !existed {
		dp = &DiscoveredProvider{
			ID:           e.id,
			Name:         e.id,
			Capabilities: e.defaults.Capabilities,
			Tier:         e.defaults.Tier,
			Source:       SourceProbe,
			Endpoint:     e.endpoint,
			DiscoveredAt: now,
		}
		s.registry[e.id] = dp
	}
	old := dp.Health.Status
	dp.Health = providers.ProviderHealth{
		Status:          status,
		SuccessRate:     report.SuccessRate,
		AverageLatency:  latency,
		LastHealthCheck: now,
	}
	dp.UpdatedAt = now
	needModels := len(dp.Models) == 0 && e.endpoint.ModelsEndpoint != ""
	s.mu.Unlock()

	if needModels {
		s.fetchModels(ctx, e)
	}
	// First registration is not a transition; only emit for providers that
	// were already in the registry.
	if existed && old != status {
		s.emit(HealthChanged{ProviderID: e.id, OldStatus: old, NewStatus: status})
	}
}

func (s *Service) fetchModels(ctx context.Context, e *endpointEntry) {
	log := logging.FromContext(ctx)
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	models, err := providers.FetchModels(fetchCtx, e.client, e.endpoint, e.id, e.defaults)
	if err != nil {
		log.Warn("model list fetch failed", "provider", e.id, "error", err.Error())
		return
	}
	s.mu.Lock()
	if dp, ok := s.registry[e.id]; ok {
		dp.Models = models
	}
	s.mu.Unlock()
	log.Info("models discovered", "provider", e.id, "models", len(models))
}

// recordFailedProbe counts the failure and, past the threshold, flips the
// provider to unhealthy with an exponentially growing cooldown capped at the
// recovery check interval.
func (s *Service) recordFailedProbe(id string, ep providers.Endpoint) {
	now := s.clock.Now()

	s.mu.Lock()
	s.failures[id]++
	consecutive := s.failures[id]

	dp, existed := s.registry[id]
	if !existed {
		// Never seen healthy; nothing to transition.
		s.mu.Unlock()
		return
	}
	old := dp.Health.Status
	dp.Health.LastHealthCheck = now
	dp.UpdatedAt = now

	var changed bool
	if consecutive >= s.cfg.UnhealthyThreshold {
		backoff := s.cfg.HealthCheckBackoff << (consecutive - s.cfg.UnhealthyThreshold)
		if backoff > s.cfg.RecoveryCheckInterval || backoff <= 0 {
			backoff = s.cfg.RecoveryCheckInterval
		}
		dp.Health.Status = providers.StatusUnhealthy
		dp.Health.SuccessRate = 0
		dp.Health.CooldownUntil = now.Add(backoff)
		changed = old != providers.StatusUnhealthy
	}
	s.mu.Unlock()

	if changed {
		s.emit(HealthChanged{ProviderID: id, OldStatus: old, NewStatus: providers.StatusUnhealthy})
	}
}

// Subscribe returns a bounded channel of health-change events. Slow
// consumers drop events rather than blocking the probe loop.
func (s *Service) Subscribe() <-chan HealthChanged {
	ch := make(chan HealthChanged, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Service) emit(ev HealthChanged) {
	s.mu.RLock()
	subs := make([]chan HealthChanged, len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Providers returns a snapshot of the registry keyed by provider id.
func (s *Service) Providers() map[string]DiscoveredProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]DiscoveredProvider, len(s.registry))
	for id, dp := range s.registry {
		cp := *dp
		cp.Models = append([]providers.ModelInfo(nil), dp.Models...)
		out[id] = cp
	}
	return out
}

// Provider returns one registry entry by id.
func (s *Service) Provider(id string) (DiscoveredProvider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dp, ok := s.registry[id]
	if !ok {
		return DiscoveredProvider{}, false
	}
	return *dp, true
}
