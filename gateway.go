// Package modelgateway routes AI requests to the best available model across
// a fleet of providers.
//
// The Gateway type is the main entry point: create one with New, register
// invokers with RegisterInvoker, pick a target with GetOptimalModel, and run
// requests with ExecuteWithFailover. Middleware (response caching, circuit
// breaking, interceptors, aggregation) wraps a Gateway via NewMiddleware.
package modelgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/corvid-labs/model-gateway/internal/balancer"
	"github.com/corvid-labs/model-gateway/internal/circuitbreaker"
	"github.com/corvid-labs/model-gateway/internal/discovery"
	"github.com/corvid-labs/model-gateway/internal/fallback"
	"github.com/corvid-labs/model-gateway/internal/logging"
	"github.com/corvid-labs/model-gateway/internal/metrics"
	"github.com/corvid-labs/model-gateway/internal/providermetrics"
	"github.com/corvid-labs/model-gateway/internal/requestlog"
	"github.com/corvid-labs/model-gateway/internal/tracing"
	"github.com/corvid-labs/model-gateway/providers"
)

// InvokerFactory builds the invoke function for one of a provider's models.
// Provider integrations (OpenAI-compatible, Bedrock) register one per
// provider id.
type InvokerFactory func(model string) providers.InvokeFunc

// Gateway routes requests to the optimal provider/model and fails over down
// a scored fallback chain when attempts fail.
type Gateway struct {
	mu        sync.RWMutex
	config    Config
	registry  *providers.Registry
	stats     *providermetrics.Service
	balancer  *balancer.Balancer
	fallbacks *fallback.Manager
	discovery *discovery.Service
	clock     clock.Clock
	invokers  map[string]InvokerFactory
	cooldowns map[string]time.Time
	attempts  requestlog.Writer
	allowed   map[string]bool
	chainRank map[string]int
}

// GatewayOption configures a Gateway at construction time.
type GatewayOption func(*Gateway)

// WithClock injects a clock, letting tests control time.
func WithClock(c clock.Clock) GatewayOption {
	return func(g *Gateway) { g.clock = c }
}

// WithMetricsService injects a shared rolling-metrics service instead of the
// gateway creating its own.
func WithMetricsService(s *providermetrics.Service) GatewayOption {
	return func(g *Gateway) { g.stats = s }
}

// WithDiscovery attaches a discovery service whose providers are merged into
// the candidate pool.
func WithDiscovery(d *discovery.Service) GatewayOption {
	return func(g *Gateway) { g.discovery = d }
}

// WithAttemptLog attaches a persistent attempt log writer. Every executor
// attempt, successful or not, is written to it.
func WithAttemptLog(w requestlog.Writer) GatewayOption {
	return func(g *Gateway) { g.attempts = w }
}

// New creates a Gateway from the given configuration.
func New(cfg Config, opts ...GatewayOption) (*Gateway, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	g := &Gateway{
		config:    cfg,
		registry:  providers.NewRegistry(),
		balancer:  balancer.New(cfg.LoadBalancing),
		fallbacks: fallback.NewManager(),
		clock:     clock.New(),
		invokers:  make(map[string]InvokerFactory),
		cooldowns: make(map[string]time.Time),
		attempts:  requestlog.NoopWriter{},
		allowed:   make(map[string]bool, len(cfg.Allowlist)),
		chainRank: make(map[string]int, len(cfg.FallbackChain)),
	}
	if cfg.MaxRetries > 0 {
		g.fallbacks.WithMaxDepth(cfg.MaxRetries)
	}
	for _, id := range cfg.Allowlist {
		g.allowed[id] = true
	}
	for i, id := range cfg.FallbackChain {
		g.chainRank[id] = i
	}
	for _, p := range cfg.Providers {
		g.registry.Register(p)
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.stats == nil {
		g.stats = providermetrics.New(providermetrics.WithClock(g.clock))
	}
	if cfg.Discovery.Enabled && g.discovery == nil {
		d := discovery.NewService(cfg.Discovery.Probing, discovery.WithClock(g.clock))
		for id, ep := range cfg.Discovery.Endpoints {
			d.AddEndpoint(id, ep, providers.ModelInfo{Capabilities: []providers.Capability{providers.CapChat}})
		}
		g.discovery = d
	}
	return g, nil
}

// RegisterInvoker binds the factory that builds invoke functions for the
// given provider's models. Handles returned by GetOptimalModel for that
// provider carry the factory's output for the selected model.
func (g *Gateway) RegisterInvoker(providerID string, factory InvokerFactory) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invokers[providerID] = factory
}

// Metrics returns the rolling provider metrics service.
func (g *Gateway) Metrics() *providermetrics.Service { return g.stats }

// StartDiscovery starts the attached discovery service's probe loop. It is a
// no-op when discovery is not configured.
func (g *Gateway) StartDiscovery(ctx context.Context) error {
	if g.discovery == nil {
		return nil
	}
	return g.discovery.Start(ctx)
}

// StopDiscovery stops the probe loop if one is running.
func (g *Gateway) StopDiscovery() {
	if g.discovery != nil {
		g.discovery.Stop()
	}
}

// DiscoveredProviders returns a snapshot of the discovery service's current
// provider set, or nil when discovery is not configured.
func (g *Gateway) DiscoveredProviders() map[string]discovery.DiscoveredProvider {
	if g.discovery == nil {
		return nil
	}
	return g.discovery.Providers()
}

// candidate pairs a model's static metadata with its provider's rolling
// stats for scoring.
type candidate struct {
	info       providers.ModelInfo
	stats      providermetrics.Metrics
	discovered bool
}

func (c candidate) balancerCandidate() balancer.Candidate {
	return balancer.Candidate{
		Provider:     c.info.Provider,
		Model:        c.info.Model,
		AvgLatency:   c.stats.AverageLatency,
		CostPerToken: c.info.CostPerToken,
		SuccessRate:  c.stats.SuccessRate,
	}
}

// GetOptimalModel selects the best provider/model for the given requirements
// and builds its fallback chain. It returns a NoSuitableModelError when no
// candidate survives filtering.
func (g *Gateway) GetOptimalModel(ctx context.Context, req ModelRequirements) (*ModelSelection, error) {
	return tracing.TrackOperation(ctx, "gateway-model-selection", "", "", func(ctx context.Context) (*ModelSelection, error) {
		return g.selectModel(ctx, req)
	})
}

func (g *Gateway) selectModel(ctx context.Context, req ModelRequirements) (*ModelSelection, error) {
	log := logging.FromContext(ctx)
	if req.Priority == "" {
		req.Priority = PriorityBalanced
	}

	pool := g.candidatePool()
	eligible := make([]candidate, 0, len(pool))
	for _, c := range pool {
		if g.meetsRequirements(c, req) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, &NoSuitableModelError{Requirements: req, Considered: len(pool)}
	}

	score := g.scoreFunc(req, eligible)
	primary := g.pickPrimary(req, eligible, score)

	sel := &ModelSelection{
		Provider: primary.info.Provider,
		Model:    primary.info.Model,
		Handle:   g.handleFor(primary.info),
		Reason:   g.selectionReason(req, primary),
	}

	bcs := make([]balancer.Candidate, len(eligible))
	byKey := make(map[string]candidate, len(eligible))
	for i, c := range eligible {
		bcs[i] = c.balancerCandidate()
		byKey[bcs[i].Key()] = c
	}
	now := g.clock.Now()
	chain := g.fallbacks.Build(primary.balancerCandidate(), bcs, score, func(providerID string) bool {
		return g.inCooldown(providerID, now)
	})
	for _, bc := range chain {
		sel.FallbackOptions = append(sel.FallbackOptions, g.handleFor(byKey[bc.Key()].info))
	}

	metrics.SelectionsTotal.WithLabelValues(sel.Provider, sel.Model, string(req.Priority)).Inc()
	log.Debug("model selected",
		slog.String("provider", sel.Provider),
		slog.String("model", sel.Model),
		slog.String("priority", string(req.Priority)),
		slog.String("reason", sel.Reason),
		slog.Int("fallbacks", len(sel.FallbackOptions)))
	return sel, nil
}

// candidatePool merges static registry models with currently usable
// discovered models. With PreferDiscovered set, discovered candidates come
// first so equal scores resolve in their favor.
func (g *Gateway) candidatePool() []candidate {
	var static, dynamic []candidate
	for _, info := range g.registry.AllModels() {
		if len(g.allowed) > 0 && !g.allowed[info.Provider] {
			continue
		}
		static = append(static, candidate{info: info, stats: g.stats.ProviderMetrics(info.Provider)})
	}
	if g.discovery != nil {
		for id, dp := range g.discovery.Providers() {
			if dp.Health.Status == providers.StatusUnhealthy {
				continue
			}
			if len(g.allowed) > 0 && !g.allowed[id] {
				continue
			}
			for _, info := range dp.Models {
				dynamic = append(dynamic, candidate{info: info, stats: g.stats.ProviderMetrics(id), discovered: true})
			}
		}
	}
	if g.config.Discovery.PreferDiscovered {
		return append(dynamic, static...)
	}
	return append(static, dynamic...)
}

// meetsRequirements applies the hard filters: capability coverage, cost
// limits, latency limits, cooldowns, and the configured SLA. Latency and SLA
// checks apply only once a provider has recorded traffic.
func (g *Gateway) meetsRequirements(c candidate, req ModelRequirements) bool {
	if !c.info.Covers(req.Capabilities) {
		return false
	}
	if req.MaxCostPerToken > 0 && c.info.CostPerToken > req.MaxCostPerToken {
		return false
	}
	if g.config.CostThreshold > 0 && c.info.CostPerToken > g.config.CostThreshold {
		return false
	}
	if g.inCooldown(c.info.Provider, g.clock.Now()) {
		return false
	}
	if c.stats.TotalRequests > 0 {
		if req.MaxLatency > 0 && c.stats.AverageLatency > req.MaxLatency {
			return false
		}
		if g.config.SLA.MaxLatency > 0 && c.stats.AverageLatency > g.config.SLA.MaxLatency {
			return false
		}
		if g.config.SLA.MinSuccessRate > 0 && c.stats.SuccessRate < g.config.SLA.MinSuccessRate {
			return false
		}
	}
	return true
}

// scoreFunc returns the scoring rule for the requested priority, closed over
// the eligible peer set so normalized scores are comparable.
func (g *Gateway) scoreFunc(req ModelRequirements, eligible []candidate) func(balancer.Candidate) float64 {
	byKey := make(map[string]candidate, len(eligible))
	peers := make([]balancer.Candidate, len(eligible))
	for i, c := range eligible {
		peers[i] = c.balancerCandidate()
		byKey[peers[i].Key()] = c
	}

	switch req.Priority {
	case PrioritySpeed:
		return func(bc balancer.Candidate) float64 {
			// Unknown latency sorts behind every measured candidate.
			if byKey[bc.Key()].stats.TotalRequests == 0 {
				return math.Inf(-1)
			}
			return -float64(bc.AvgLatency)
		}
	case PriorityQuality:
		return func(bc balancer.Candidate) float64 {
			return qualityScore(byKey[bc.Key()].info, req.Complexity)
		}
	case PriorityCost:
		return func(bc balancer.Candidate) float64 {
			return -bc.CostPerToken
		}
	default:
		return func(bc balancer.Candidate) float64 {
			return balancer.Score(bc, peers, balancer.DefaultWeights)
		}
	}
}

// qualityScore ranks models by cost tier, capability breadth, and context
// window. High-complexity tasks weight the context window more heavily.
func qualityScore(info providers.ModelInfo, complexity Complexity) float64 {
	score := float64(info.Tier.Rank())*10 + float64(len(info.Capabilities))
	window := float64(info.ContextWindow) / 1_000_000
	if complexity == ComplexityHigh {
		window *= 4
	}
	return score + window
}

// pickPrimary picks the top-scored candidate, delegating ties to the load
// balancer so rotation strategies still apply among equals.
func (g *Gateway) pickPrimary(req ModelRequirements, eligible []candidate, score func(balancer.Candidate) float64) candidate {
	byKey := make(map[string]candidate, len(eligible))
	bcs := make([]balancer.Candidate, len(eligible))
	for i, c := range eligible {
		bcs[i] = c.balancerCandidate()
		byKey[bcs[i].Key()] = c
	}
	sort.SliceStable(bcs, func(i, j int) bool {
		si, sj := score(bcs[i]), score(bcs[j])
		if si != sj {
			return si > sj
		}
		return g.chainLess(bcs[i], bcs[j])
	})

	top := score(bcs[0])
	tied := bcs[:1]
	for _, bc := range bcs[1:] {
		if score(bc) != top {
			break
		}
		tied = append(tied, bc)
	}
	if len(tied) == 1 {
		return byKey[tied[0].Key()]
	}
	picked, err := g.balancer.Pick(req.TaskKind, tied)
	if err != nil {
		return byKey[bcs[0].Key()]
	}
	return byKey[picked.Key()]
}

// chainLess orders equal-scored candidates by the configured fallback chain,
// then by key for determinism.
func (g *Gateway) chainLess(a, b balancer.Candidate) bool {
	ra, oka := g.chainRank[a.Provider]
	rb, okb := g.chainRank[b.Provider]
	switch {
	case oka && okb && ra != rb:
		return ra < rb
	case oka != okb:
		return oka
	default:
		return a.Key() < b.Key()
	}
}

func (g *Gateway) selectionReason(req ModelRequirements, c candidate) string {
	switch req.Priority {
	case PrioritySpeed:
		return fmt.Sprintf("Lowest latency: %s (avg %s)", c.info.Key(), c.stats.AverageLatency)
	case PriorityQuality:
		return fmt.Sprintf("Highest quality: %s (%s tier, %d capabilities)", c.info.Key(), c.info.Tier, len(c.info.Capabilities))
	case PriorityCost:
		return fmt.Sprintf("Lowest cost: %s ($%g/token)", c.info.Key(), c.info.CostPerToken)
	default:
		return fmt.Sprintf("Best balanced score: %s (success %.0f%%, avg %s, $%g/token)",
			c.info.Key(), c.stats.SuccessRate*100, c.stats.AverageLatency, c.info.CostPerToken)
	}
}

// handleFor builds an invokable handle for a model. Providers without a
// registered invoker get a handle that fails fast at execution time.
func (g *Gateway) handleFor(info providers.ModelInfo) providers.ModelHandle {
	g.mu.RLock()
	factory := g.invokers[info.Provider]
	g.mu.RUnlock()
	var fn providers.InvokeFunc
	if factory != nil {
		fn = factory(info.Model)
	}
	if fn == nil {
		provider := info.Provider
		fn = func(context.Context, any) (any, error) {
			return nil, fmt.Errorf("no invoker registered for provider %q", provider)
		}
	}
	return providers.ModelHandle{
		Provider:     info.Provider,
		Model:        info.Model,
		Capabilities: info.Capabilities,
		Invoke:       fn,
	}
}

// ExecuteWithFailover runs fn against the selected model, then against each
// fallback in chain order until one succeeds. Every attempt is timed,
// recorded in the rolling metrics, and written to the attempt log. The
// configured retry delay separates attempts; context cancellation aborts the
// sequence immediately.
//
// When every target fails it returns an AllProvidersFailedError wrapping the
// last attempt's error.
func (g *Gateway) ExecuteWithFailover(ctx context.Context, sel *ModelSelection, fn RequestFunc) (any, error) {
	log := logging.FromContext(ctx)
	targets := append([]providers.ModelHandle{sel.Handle}, sel.FallbackOptions...)

	var lastErr error
	tried := make([]string, 0, len(targets))
	for i, handle := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			if err := g.sleep(ctx, g.config.RetryDelay); err != nil {
				return nil, err
			}
		}
		if i == 1 {
			metrics.FailoversTotal.WithLabelValues(sel.Provider).Inc()
		}

		tried = append(tried, handle.Key())
		result, err := g.attempt(ctx, handle, i+1, fn)
		if err == nil {
			if i > 0 {
				log.Info("request recovered via fallback",
					slog.String("primary", sel.Key()),
					slog.String("served_by", handle.Key()),
					slog.Int("attempt", i+1))
			}
			return result, nil
		}
		lastErr = err
		log.Warn("attempt failed",
			slog.String("target", handle.Key()),
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()))
	}

	return nil, &AllProvidersFailedError{Attempts: len(tried), Tried: tried, LastErr: lastErr}
}

// attempt runs one timed executor call and records its outcome everywhere:
// rolling metrics, Prometheus, and the attempt log.
func (g *Gateway) attempt(ctx context.Context, handle providers.ModelHandle, attempt int, fn RequestFunc) (any, error) {
	start := g.clock.Now()
	result, err := fn(ctx, handle)
	elapsed := g.clock.Now().Sub(start)

	entry := requestlog.Entry{
		AttemptID: uuid.NewString(),
		TraceID:   logging.TraceIDFromContext(ctx),
		Provider:  handle.Provider,
		Model:     handle.Model,
		Attempt:   attempt,
		LatencyMS: elapsed.Milliseconds(),
		CreatedAt: g.clock.Now(),
	}
	// Open-circuit rejections never reached the provider: they are counted
	// on their own and kept out of the rolling success rate, so fast-fails
	// cannot talk a provider into cooldown.
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		metrics.AttemptsTotal.WithLabelValues(handle.Provider, handle.Model, "rejected").Inc()
		entry.Outcome = requestlog.OutcomeRejected
		entry.ErrorMessage = err.Error()
		g.writeAttempt(ctx, entry)
		return nil, &attemptError{handle: handle, err: err}
	}
	metrics.AttemptDuration.WithLabelValues(handle.Provider, handle.Model).Observe(elapsed.Seconds())

	if err != nil {
		g.stats.RecordFailure(handle.Provider, elapsed)
		metrics.AttemptsTotal.WithLabelValues(handle.Provider, handle.Model, "error").Inc()
		entry.Outcome = requestlog.OutcomeFailure
		entry.ErrorMessage = err.Error()
		g.writeAttempt(ctx, entry)
		return nil, &attemptError{handle: handle, err: err}
	}

	var usage providers.Usage
	var cost float64
	if r, ok := result.(*providers.Result); ok {
		usage = r.Usage
		if info, found := g.findModel(handle.Provider, handle.Model); found {
			cost = float64(usage.Total()) * info.CostPerToken
		}
	}
	g.stats.RecordSuccess(handle.Provider, elapsed, usage.PromptTokens, usage.CompletionTokens, cost)
	metrics.AttemptsTotal.WithLabelValues(handle.Provider, handle.Model, "success").Inc()
	metrics.TokensInput.WithLabelValues(handle.Provider, handle.Model).Add(float64(usage.PromptTokens))
	metrics.TokensOutput.WithLabelValues(handle.Provider, handle.Model).Add(float64(usage.CompletionTokens))
	metrics.RequestCostUSD.WithLabelValues(handle.Provider, handle.Model).Add(cost)

	entry.Outcome = requestlog.OutcomeSuccess
	entry.PromptTokens = usage.PromptTokens
	entry.CompletionTokens = usage.CompletionTokens
	entry.CostUSD = cost
	g.writeAttempt(ctx, entry)
	return result, nil
}

func (g *Gateway) writeAttempt(ctx context.Context, entry requestlog.Entry) {
	if err := g.attempts.Write(ctx, entry); err != nil {
		logging.FromContext(ctx).Warn("attempt log write failed", slog.String("error", err.Error()))
	}
}

// findModel looks up model metadata in the static registry, then among
// discovered providers.
func (g *Gateway) findModel(providerID, model string) (providers.ModelInfo, bool) {
	if info, ok := g.registry.FindModel(providerID, model); ok {
		return info, true
	}
	if g.discovery != nil {
		if dp, ok := g.discovery.Provider(providerID); ok {
			for _, info := range dp.Models {
				if info.Model == model {
					return info, true
				}
			}
		}
	}
	return providers.ModelInfo{}, false
}

func (g *Gateway) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := g.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CheckProviderHealth classifies the provider's current health from its
// rolling metrics. A provider classified unhealthy is placed in cooldown for
// the configured period and excluded from selection until it expires.
func (g *Gateway) CheckProviderHealth(providerID string) providers.ProviderHealth {
	m := g.stats.ProviderMetrics(providerID)
	now := g.clock.Now()

	health := providers.ProviderHealth{
		SuccessRate:     m.SuccessRate,
		AverageLatency:  m.AverageLatency,
		LastHealthCheck: now,
	}
	if m.TotalRequests == 0 {
		// No traffic yet: optimistic until proven otherwise.
		health.Status = providers.StatusHealthy
		health.SuccessRate = 1
		g.clearCooldown(providerID)
		return health
	}

	health.Status = providers.ClassifyHealth(m.SuccessRate, m.AverageLatency)
	if health.Status == providers.StatusUnhealthy {
		until := now.Add(g.config.CooldownPeriod)
		health.CooldownUntil = until
		g.mu.Lock()
		g.cooldowns[providerID] = until
		g.mu.Unlock()
	} else {
		g.clearCooldown(providerID)
	}
	return health
}

// GetAllProviderStatuses classifies every known provider: configured ones,
// discovered ones, and any that have recorded traffic.
func (g *Gateway) GetAllProviderStatuses() map[string]providers.ProviderHealth {
	ids := make(map[string]bool)
	for _, id := range g.registry.List() {
		ids[id] = true
	}
	for _, id := range g.stats.Providers() {
		ids[id] = true
	}
	if g.discovery != nil {
		for id := range g.discovery.Providers() {
			ids[id] = true
		}
	}
	statuses := make(map[string]providers.ProviderHealth, len(ids))
	for id := range ids {
		statuses[id] = g.CheckProviderHealth(id)
	}
	return statuses
}

// RecomputeAdaptiveWeights re-derives the adaptive strategy's blend from the
// fleet-wide success rate. Call it periodically when using the adaptive
// strategy.
func (g *Gateway) RecomputeAdaptiveWeights() {
	ids := g.stats.Providers()
	if len(ids) == 0 {
		return
	}
	var sum float64
	for _, id := range ids {
		sum += g.stats.ProviderMetrics(id).SuccessRate
	}
	g.balancer.SetWeights(balancer.RecomputeWeights(sum / float64(len(ids))))
}

func (g *Gateway) inCooldown(providerID string, now time.Time) bool {
	g.mu.RLock()
	until, ok := g.cooldowns[providerID]
	g.mu.RUnlock()
	return ok && now.Before(until)
}

func (g *Gateway) clearCooldown(providerID string) {
	g.mu.Lock()
	delete(g.cooldowns, providerID)
	g.mu.Unlock()
}
