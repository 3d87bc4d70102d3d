package modelgateway

import (
	"context"
	"time"

	"github.com/corvid-labs/model-gateway/providers"
)

// Priority states what a request optimizes for when several models qualify.
type Priority string

// Priority constants.
const (
	PrioritySpeed    Priority = "speed"
	PriorityQuality  Priority = "quality"
	PriorityCost     Priority = "cost"
	PriorityBalanced Priority = "balanced"
)

// Complexity is an optional hint about how demanding the task is.
type Complexity string

// Complexity constants.
const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// ModelRequirements describes what a request needs from a model. Values are
// immutable per request: the gateway never mutates a requirements struct.
type ModelRequirements struct {
	// TaskKind buckets requests for round-robin rotation (e.g. "chat",
	// "summarize", "code").
	TaskKind string `json:"task_kind,omitempty"`
	// Priority selects the scoring rule; empty means balanced.
	Priority Priority `json:"priority,omitempty"`
	// Capabilities every candidate must cover.
	Capabilities []providers.Capability `json:"capabilities,omitempty"`
	// MaxCostPerToken drops candidates above this cost. Zero means no limit.
	MaxCostPerToken float64 `json:"max_cost_per_token,omitempty"`
	// MaxLatency drops candidates whose known average latency exceeds it.
	// Zero means no limit.
	MaxLatency time.Duration `json:"max_latency,omitempty"`
	// Complexity is an optional hint; high complexity biases quality scoring
	// toward larger context windows.
	Complexity Complexity `json:"complexity,omitempty"`
}

// ModelSelection is the outcome of GetOptimalModel: the chosen target, a
// human-readable reason, and the ordered fallback chain. The fallback list
// never contains the chosen target or a provider in cooldown.
type ModelSelection struct {
	Provider        string                 `json:"provider"`
	Model           string                 `json:"model"`
	Handle          providers.ModelHandle  `json:"-"`
	Reason          string                 `json:"reason"`
	FallbackOptions []providers.ModelHandle `json:"-"`
}

// Key returns the canonical "provider/model" identifier of the chosen target.
func (s *ModelSelection) Key() string {
	return s.Provider + "/" + s.Model
}

// FallbackKeys returns the provider/model keys of the fallback chain in
// order, for logging and inspection.
func (s *ModelSelection) FallbackKeys() []string {
	keys := make([]string, len(s.FallbackOptions))
	for i, h := range s.FallbackOptions {
		keys[i] = h.Key()
	}
	return keys
}

// RequestFunc is the caller-supplied executor invoked against each attempted
// model handle during failover execution.
type RequestFunc func(ctx context.Context, handle providers.ModelHandle) (any, error)
