package modelgateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/corvid-labs/model-gateway/internal/cache"
	"github.com/corvid-labs/model-gateway/internal/circuitbreaker"
	"github.com/corvid-labs/model-gateway/internal/logging"
	"github.com/corvid-labs/model-gateway/internal/metrics"
	"github.com/corvid-labs/model-gateway/providers"
)

// Request is the unit of work flowing through the middleware: the model
// requirements plus the caller's opaque input (prompt, messages, payload).
type Request struct {
	Requirements ModelRequirements
	Input        any
}

// Handler advances a request to the next stage of the middleware pipeline.
type Handler func(ctx context.Context, req *Request) (any, error)

// RequestInterceptor wraps request processing. It may mutate the request,
// short-circuit by returning without calling next, or transform the result.
type RequestInterceptor func(ctx context.Context, req *Request, next Handler) (any, error)

// ResponseHandler advances a successful result through the remaining
// response interceptors.
type ResponseHandler func(ctx context.Context, req *Request, result any) (any, error)

// ResponseInterceptor wraps result post-processing. It may transform the
// result, short-circuit by returning without calling next, or fail the
// request.
type ResponseInterceptor func(ctx context.Context, req *Request, result any, next ResponseHandler) (any, error)

// ErrorHandler advances a terminal error through the remaining error
// interceptors.
type ErrorHandler func(ctx context.Context, req *Request, err error) error

// ErrorInterceptor wraps terminal error handling. It may replace the error
// or short-circuit by returning without calling next.
type ErrorInterceptor func(ctx context.Context, req *Request, err error, next ErrorHandler) error

// Middleware wraps a Gateway with response caching, per-model circuit
// breaking, interceptor chains, and optional response aggregation.
type Middleware struct {
	gateway *Gateway
	config  Config

	cache *cache.LRU // nil when caching is disabled

	breakerMu sync.Mutex
	breakers  map[string]*circuitbreaker.CircuitBreaker

	interceptorMu        sync.RWMutex
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
	errorInterceptors    []ErrorInterceptor
}

// NewMiddleware wraps the gateway according to its configuration.
func NewMiddleware(g *Gateway) *Middleware {
	m := &Middleware{
		gateway:  g,
		config:   g.config,
		breakers: make(map[string]*circuitbreaker.CircuitBreaker),
	}
	if g.config.Cache.Enabled {
		m.cache = cache.NewLRU(g.config.Cache.MaxEntries, g.config.Cache.TTL)
	}
	return m
}

// UseRequestInterceptor registers a request interceptor. The most recently
// registered interceptor runs first (outermost).
func (m *Middleware) UseRequestInterceptor(ri RequestInterceptor) {
	m.interceptorMu.Lock()
	defer m.interceptorMu.Unlock()
	m.requestInterceptors = append(m.requestInterceptors, ri)
}

// UseResponseInterceptor registers a response interceptor. The most recently
// registered interceptor runs first (outermost).
func (m *Middleware) UseResponseInterceptor(ri ResponseInterceptor) {
	m.interceptorMu.Lock()
	defer m.interceptorMu.Unlock()
	m.responseInterceptors = append(m.responseInterceptors, ri)
}

// UseErrorInterceptor registers an error interceptor. The most recently
// registered interceptor runs first (outermost).
func (m *Middleware) UseErrorInterceptor(ei ErrorInterceptor) {
	m.interceptorMu.Lock()
	defer m.interceptorMu.Unlock()
	m.errorInterceptors = append(m.errorInterceptors, ei)
}

// ProcessRequest runs a request through the full pipeline: request
// interceptors (newest first), cache lookup, model selection, breaker-guarded
// failover execution, cache fill, then response or error interceptors (each
// chain also newest first).
//
// fn is the caller's executor, invoked with each attempted model handle and
// the request input.
func (m *Middleware) ProcessRequest(ctx context.Context, req *Request, fn RequestFunc) (any, error) {
	core := func(ctx context.Context, req *Request) (any, error) {
		return m.execute(ctx, req, fn)
	}

	m.interceptorMu.RLock()
	chain := core
	for _, ri := range m.requestInterceptors {
		ri, next := ri, chain
		chain = func(ctx context.Context, req *Request) (any, error) {
			return ri(ctx, req, next)
		}
	}
	respChain := ResponseHandler(func(_ context.Context, _ *Request, result any) (any, error) {
		return result, nil
	})
	for _, ri := range m.responseInterceptors {
		ri, next := ri, respChain
		respChain = func(ctx context.Context, req *Request, result any) (any, error) {
			return ri(ctx, req, result, next)
		}
	}
	errChain := ErrorHandler(func(_ context.Context, _ *Request, err error) error {
		return err
	})
	for _, ei := range m.errorInterceptors {
		ei, next := ei, errChain
		errChain = func(ctx context.Context, req *Request, err error) error {
			return ei(ctx, req, err, next)
		}
	}
	m.interceptorMu.RUnlock()

	result, err := chain(ctx, req)
	if err != nil {
		return nil, errChain(ctx, req, err)
	}
	return respChain(ctx, req, result)
}

// execute is the pipeline core: cache, selection, breaker-guarded failover.
func (m *Middleware) execute(ctx context.Context, req *Request, fn RequestFunc) (any, error) {
	log := logging.FromContext(ctx)

	var key string
	if m.cache != nil {
		key = cacheKey(req)
		if cached, ok := m.cache.Get(key); ok {
			metrics.CacheEvents.WithLabelValues("hit").Inc()
			log.Debug("cache hit", slog.String("key", key))
			return cached, nil
		}
		metrics.CacheEvents.WithLabelValues("miss").Inc()
	}

	sel, err := m.gateway.GetOptimalModel(ctx, req.Requirements)
	if err != nil {
		return nil, err
	}

	result, err := m.gateway.ExecuteWithFailover(ctx, sel, m.guarded(fn))
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		m.cache.Set(key, result)
		metrics.CacheEvents.WithLabelValues("store").Inc()
	}
	return result, nil
}

// guarded wraps the executor so every attempt consults that model's circuit
// breaker. An open circuit fails the attempt immediately, letting failover
// move on without spending a call on a known-bad target.
func (m *Middleware) guarded(fn RequestFunc) RequestFunc {
	return func(ctx context.Context, handle providers.ModelHandle) (any, error) {
		cb := m.breaker(handle.Key())
		if !cb.Allow() {
			m.reportBreakerState(handle.Key(), cb)
			return nil, fmt.Errorf("%s: %w", handle.Key(), circuitbreaker.ErrCircuitOpen)
		}
		result, err := fn(ctx, handle)
		switch {
		case err == nil:
			cb.RecordSuccess()
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			// Already rejected by a breaker downstream; not a fresh
			// provider failure.
		default:
			cb.RecordFailure()
		}
		m.reportBreakerState(handle.Key(), cb)
		return result, err
	}
}

func (m *Middleware) breaker(key string) *circuitbreaker.CircuitBreaker {
	m.breakerMu.Lock()
	defer m.breakerMu.Unlock()
	cb, ok := m.breakers[key]
	if !ok {
		cb = circuitbreaker.NewWithClock(
			m.config.CircuitBreaker.Threshold, 1, m.config.CircuitBreaker.Timeout, m.gateway.clock)
		m.breakers[key] = cb
	}
	return cb
}

func (m *Middleware) reportBreakerState(key string, cb *circuitbreaker.CircuitBreaker) {
	metrics.CircuitBreakerState.WithLabelValues(key).Set(float64(cb.State()))
}

// GetCircuitBreakerStatus returns the current state of every model circuit
// the middleware has seen.
func (m *Middleware) GetCircuitBreakerStatus() map[string]circuitbreaker.Snapshot {
	m.breakerMu.Lock()
	defer m.breakerMu.Unlock()
	statuses := make(map[string]circuitbreaker.Snapshot, len(m.breakers))
	for key, cb := range m.breakers {
		statuses[key] = cb.Snapshot()
	}
	return statuses
}

// GetCacheStats returns cache entry count and hit/miss counters. Zeroed when
// caching is disabled.
func (m *Middleware) GetCacheStats() cache.Stats {
	if m.cache == nil {
		return cache.Stats{}
	}
	return m.cache.Stats()
}

// ClearCache drops all cached responses and resets the counters.
func (m *Middleware) ClearCache() {
	if m.cache != nil {
		m.cache.Clear()
	}
}

// cacheKey derives a stable key from the requirements and input. JSON
// round-tripping canonicalizes map ordering; inputs that cannot marshal fall
// back to their formatted value.
func cacheKey(req *Request) string {
	h := sha256.New()
	if b, err := json.Marshal(req.Requirements); err == nil {
		h.Write(b)
	}
	if b, err := json.Marshal(req.Input); err == nil {
		h.Write(b)
	} else {
		fmt.Fprintf(h, "%v", req.Input)
	}
	return hex.EncodeToString(h.Sum(nil))
}
