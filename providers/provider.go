// Package providers defines the data types the gateway routes over: model
// metadata, capability sets, and the opaque ModelHandle the gateway hands to
// request executors.
//
// The gateway itself never touches a provider SDK. Concrete handle factories
// (OpenAI, AWS Bedrock) live in this package so callers can build real
// handles, but everything the routing core sees is a ModelHandle with a
// capability tag and an invocation closure.
package providers

import (
	"context"
	"time"
)

// Capability identifies a feature a model supports.
type Capability string

// Capability constants used in model metadata and requirement filtering.
const (
	CapChat        Capability = "chat"
	CapVision      Capability = "vision"
	CapTools       Capability = "tools"
	CapJSONMode    Capability = "json-mode"
	CapStreaming   Capability = "streaming"
	CapReasoning   Capability = "reasoning"
	CapLongContext Capability = "long-context"
	CapEmbeddings  Capability = "embeddings"
)

// CostTier is a coarse pricing bracket used for quality scoring and
// discovered-provider metadata.
type CostTier string

// Cost tier constants, cheapest to most expensive.
const (
	TierFree     CostTier = "free"
	TierLow      CostTier = "low"
	TierStandard CostTier = "standard"
	TierPremium  CostTier = "premium"
)

// tierRank orders cost tiers for quality scoring; a higher-tier model is
// assumed to be the stronger one when capability sets tie.
func (t CostTier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierLow:
		return 1
	case TierStandard:
		return 2
	case TierPremium:
		return 3
	default:
		return 1
	}
}

// ModelInfo describes a single callable model offered by a provider.
// Provider + Model uniquely identify a routable target.
type ModelInfo struct {
	Provider      string       `json:"provider" yaml:"provider"`
	Model         string       `json:"model" yaml:"model"`
	Capabilities  []Capability `json:"capabilities" yaml:"capabilities"`
	CostPerToken  float64      `json:"cost_per_token" yaml:"cost_per_token"` // USD per token, blended input/output
	MaxTokens     int          `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	ContextWindow int          `json:"context_window,omitempty" yaml:"context_window,omitempty"`
	Tier          CostTier     `json:"tier,omitempty" yaml:"tier,omitempty"`
}

// Key returns the canonical "provider/model" identifier.
func (m ModelInfo) Key() string {
	return m.Provider + "/" + m.Model
}

// Covers reports whether this model's capability set includes every
// required capability.
func (m ModelInfo) Covers(required []Capability) bool {
	for _, want := range required {
		found := false
		for _, have := range m.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// InvokeFunc is the opaque invocation closure carried by a ModelHandle.
// Input and output shapes are owned by the caller; the gateway only times
// the call and interprets the error.
type InvokeFunc func(ctx context.Context, input any) (any, error)

// ModelHandle is the capability-tagged handle the gateway passes to request
// executors. Invoke may be nil for handles built purely for selection tests.
type ModelHandle struct {
	Provider     string
	Model        string
	Capabilities []Capability
	Invoke       InvokeFunc
}

// Key returns the canonical "provider/model" identifier.
func (h ModelHandle) Key() string {
	return h.Provider + "/" + h.Model
}

// Usage carries token accounting reported by an executor, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Result is the concrete shape returned by the handle factories in this
// package. Executors are free to return anything; the gateway only inspects
// Usage when the result happens to be a *Result.
type Result struct {
	Text    string
	Model   string
	Latency time.Duration
	Usage   Usage
}
