// Package providermetrics records per-provider call outcomes into rolling
// in-memory windows: success/failure counts, a fixed-size latency sample
// buffer for percentile derivation, token usage, cost totals, and the last
// reported rate-limit state.
//
// The service is the sole writer of provider metrics. Readers get
// point-in-time snapshots; a provider with no recorded data reads back as
// zeroed metrics, never an error.
package providermetrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// latencySampleSize bounds the per-provider latency ring buffer.
const latencySampleSize = 256

// DefaultWindow is the retention window for outcome events.
const DefaultWindow = 15 * time.Minute

// RateLimit is the last rate-limit state reported for a provider.
type RateLimit struct {
	Remaining int
	Limit     int
	Reset     time.Time
}

// Metrics is a point-in-time snapshot of one provider's rolling window.
type Metrics struct {
	Provider         string
	TotalRequests    int64
	SuccessCount     int64
	ErrorCount       int64
	SuccessRate      float64
	AverageLatency   time.Duration
	LatencyP50       time.Duration
	LatencyP95       time.Duration
	LatencyP99       time.Duration
	PromptTokens     int64
	CompletionTokens int64
	TotalCostUSD     float64
	RateLimit        RateLimit
	LastUpdated      time.Time
}

type outcome struct {
	at      time.Time
	success bool
}

type record struct {
	outcomes         []outcome
	latencies        [latencySampleSize]time.Duration
	latencyCount     int // total samples ever written; ring index = count % size
	promptTokens     int64
	completionTokens int64
	totalCostUSD     float64
	rateLimit        RateLimit
	lastUpdated      time.Time
}

// Service is the rolling-window recorder. Construct one per process with New
// and inject it where outcomes are recorded; tests construct fresh instances.
type Service struct {
	mu        sync.Mutex
	clock     clock.Clock
	window    time.Duration
	providers map[string]*record
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a clock, letting tests control time.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithWindow overrides the retention window for outcome events.
func WithWindow(w time.Duration) Option {
	return func(s *Service) { s.window = w }
}

// New creates a Service with the default window and wall clock.
func New(opts ...Option) *Service {
	s := &Service{
		clock:     clock.New(),
		window:    DefaultWindow,
		providers: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) get(provider string) *record {
	r, ok := s.providers[provider]
	if !ok {
		r = &record{}
		s.providers[provider] = r
	}
	return r
}

// RecordSuccess records a successful call with its latency and usage.
func (s *Service) RecordSuccess(provider string, latency time.Duration, promptTokens, completionTokens int, costUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	r := s.get(provider)
	r.outcomes = append(r.outcomes, outcome{at: now, success: true})
	r.recordLatency(latency)
	r.promptTokens += int64(promptTokens)
	r.completionTokens += int64(completionTokens)
	r.totalCostUSD += costUSD
	r.lastUpdated = now
	s.trimLocked(r, now)
}

// RecordFailure records a failed call. Latency of zero is accepted for
// failures that never reached the provider.
func (s *Service) RecordFailure(provider string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	r := s.get(provider)
	r.outcomes = append(r.outcomes, outcome{at: now, success: false})
	if latency > 0 {
		r.recordLatency(latency)
	}
	r.lastUpdated = now
	s.trimLocked(r, now)
}

// RecordLatency adds a latency sample without counting an outcome. Used by
// probes that measure round-trip time outside the request path.
func (s *Service) RecordLatency(provider string, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(provider)
	r.recordLatency(latency)
	r.lastUpdated = s.clock.Now()
}

// SetRateLimit stores the latest rate-limit state reported by a provider.
func (s *Service) SetRateLimit(provider string, rl RateLimit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(provider)
	r.rateLimit = rl
	r.lastUpdated = s.clock.Now()
}

func (r *record) recordLatency(d time.Duration) {
	r.latencies[r.latencyCount%latencySampleSize] = d
	r.latencyCount++
}

// trimLocked drops outcomes older than the retention window.
func (s *Service) trimLocked(r *record, now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for ; i < len(r.outcomes); i++ {
		if r.outcomes[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		r.outcomes = append(r.outcomes[:0], r.outcomes[i:]...)
	}
}

// ProviderMetrics returns a snapshot for one provider. Unknown providers
// return zeroed metrics.
func (s *Service) ProviderMetrics(provider string) Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{Provider: provider}
	r, ok := s.providers[provider]
	if !ok {
		return m
	}
	s.trimLocked(r, s.clock.Now())

	for _, o := range r.outcomes {
		m.TotalRequests++
		if o.success {
			m.SuccessCount++
		} else {
			m.ErrorCount++
		}
	}
	if m.TotalRequests > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalRequests)
	}

	samples := r.samples()
	if len(samples) > 0 {
		var sum time.Duration
		for _, d := range samples {
			sum += d
		}
		m.AverageLatency = sum / time.Duration(len(samples))
		sorted := make([]time.Duration, len(samples))
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		m.LatencyP50 = percentile(sorted, 0.50)
		m.LatencyP95 = percentile(sorted, 0.95)
		m.LatencyP99 = percentile(sorted, 0.99)
	}

	m.PromptTokens = r.promptTokens
	m.CompletionTokens = r.completionTokens
	m.TotalCostUSD = r.totalCostUSD
	m.RateLimit = r.rateLimit
	m.LastUpdated = r.lastUpdated
	return m
}

// Providers returns the ids of every provider with recorded data, in no
// particular order.
func (s *Service) Providers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.providers))
	for id := range s.providers {
		ids = append(ids, id)
	}
	return ids
}

// StartCleanup runs a periodic trim of all provider windows until ctx is
// cancelled. Reads already trim lazily; the cleanup cycle just bounds memory
// for providers that stop receiving traffic.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := s.clock.Ticker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				now := s.clock.Now()
				for _, r := range s.providers {
					s.trimLocked(r, now)
				}
				s.mu.Unlock()
			}
		}
	}()
}

func (r *record) samples() []time.Duration {
	n := r.latencyCount
	if n > latencySampleSize {
		n = latencySampleSize
	}
	return r.latencies[:n]
}

// percentile reads the p-th percentile from an ascending-sorted slice using
// the nearest-rank method.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
