package modelgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/corvid-labs/model-gateway/providers"
)

// AggregationMode selects how multiple model responses are combined.
type AggregationMode string

// Aggregation modes.
const (
	// AggregateConsensus returns the most common answer across targets.
	AggregateConsensus AggregationMode = "consensus"
	// AggregateBestOf scores every successful answer and returns the
	// strongest one.
	AggregateBestOf AggregationMode = "best-of"
	// AggregateEnsemble returns every successful answer.
	AggregateEnsemble AggregationMode = "ensemble"
)

// defaultFanout is how many targets an aggregated request queries when the
// caller does not say.
const defaultFanout = 3

// ModelResponse is one target's outcome within an aggregated request.
type ModelResponse struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Result   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// AggregatedResponse is the combined outcome of an aggregated request.
// Responses holds every target's outcome in rank order, including failures.
type AggregatedResponse struct {
	Mode      AggregationMode `json:"mode"`
	Result    any             `json:"result"`
	Responses []ModelResponse `json:"responses"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

// ProcessAggregatedRequest fans the request out to the top-ranked targets in
// parallel, waits for every attempt to settle, and combines the successes
// according to mode. fanout caps how many targets are queried; zero or
// negative uses the default.
//
// Returns ErrAggregationDisabled unless aggregation is enabled in config,
// and an AllProvidersFailedError when every queried target fails.
func (m *Middleware) ProcessAggregatedRequest(ctx context.Context, req *Request, mode AggregationMode, fanout int, fn RequestFunc) (*AggregatedResponse, error) {
	if !m.config.Aggregation.Enabled {
		return nil, ErrAggregationDisabled
	}
	switch mode {
	case AggregateConsensus, AggregateBestOf, AggregateEnsemble:
	default:
		return nil, fmt.Errorf("unknown aggregation mode: %q", mode)
	}
	if fanout <= 0 {
		fanout = defaultFanout
	}

	sel, err := m.gateway.GetOptimalModel(ctx, req.Requirements)
	if err != nil {
		return nil, err
	}
	targets := append([]providers.ModelHandle{sel.Handle}, sel.FallbackOptions...)
	if len(targets) > fanout {
		targets = targets[:fanout]
	}

	// Each fan-out attempt goes through the same recording path as failover
	// attempts, so rolling metrics and the attempt log see them too.
	guarded := m.guarded(fn)
	responses := make([]ModelResponse, len(targets))
	var wg sync.WaitGroup
	for i, handle := range targets {
		wg.Add(1)
		go func(i int, handle providers.ModelHandle) {
			defer wg.Done()
			start := m.gateway.clock.Now()
			result, err := m.gateway.attempt(ctx, handle, i+1, guarded)
			responses[i] = ModelResponse{
				Provider: handle.Provider,
				Model:    handle.Model,
				Latency:  m.gateway.clock.Now().Sub(start),
			}
			if err != nil {
				responses[i].Error = err.Error()
				return
			}
			responses[i].Result = result
		}(i, handle)
	}
	wg.Wait()

	agg := &AggregatedResponse{Mode: mode, Responses: responses}
	tried := make([]string, len(targets))
	var lastErr error
	for i, r := range responses {
		tried[i] = r.Provider + "/" + r.Model
		if r.Error == "" {
			agg.Succeeded++
		} else {
			agg.Failed++
			lastErr = errors.New(r.Error) // already key-prefixed by the attempt
		}
	}
	if agg.Succeeded == 0 {
		return nil, &AllProvidersFailedError{Attempts: len(targets), Tried: tried, LastErr: lastErr}
	}

	switch mode {
	case AggregateConsensus:
		agg.Result = consensusResult(responses)
	case AggregateBestOf:
		agg.Result = bestOfResult(responses)
	case AggregateEnsemble:
		var all []any
		for _, r := range responses {
			if r.Error == "" {
				all = append(all, r.Result)
			}
		}
		agg.Result = all
	}
	return agg, nil
}

// bestOfResult scores every successful output and returns the strongest one.
// Completion size dominates, with latency as a small penalty; equal scores
// keep the earlier (better-ranked) target.
func bestOfResult(responses []ModelResponse) any {
	bestIdx := -1
	bestScore := math.Inf(-1)
	for i, r := range responses {
		if r.Error != "" {
			continue
		}
		if score := responseScore(r); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return responses[bestIdx].Result
}

// responseScore rates one output: completion tokens when the provider
// reported usage, answer characters otherwise, minus elapsed seconds.
func responseScore(r ModelResponse) float64 {
	size := float64(len(canonicalAnswer(r.Result)))
	if res, ok := r.Result.(*providers.Result); ok && res.Usage.CompletionTokens > 0 {
		size = float64(res.Usage.CompletionTokens)
	}
	return size - r.Latency.Seconds()
}

// consensusResult picks the most common successful answer. Answers are
// compared by text content when available, otherwise by canonical JSON.
// First-seen wins ties, so rank order still matters among equals.
func consensusResult(responses []ModelResponse) any {
	counts := make(map[string]int)
	firstByKey := make(map[string]any)
	var order []string
	for _, r := range responses {
		if r.Error != "" {
			continue
		}
		key := canonicalAnswer(r.Result)
		if _, seen := counts[key]; !seen {
			order = append(order, key)
			firstByKey[key] = r.Result
		}
		counts[key]++
	}

	bestKey := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[bestKey] {
			bestKey = key
		}
	}
	return firstByKey[bestKey]
}

func canonicalAnswer(result any) string {
	if r, ok := result.(*providers.Result); ok {
		return r.Text
	}
	if s, ok := result.(string); ok {
		return s
	}
	if b, err := json.Marshal(result); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", result)
}
