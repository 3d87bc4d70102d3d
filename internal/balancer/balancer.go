// Package balancer implements the selection strategies used over a
// pre-filtered candidate list. It performs no health checking of its own:
// callers hand it only eligible candidates, annotated with the rolling
// metrics the strategies score on.
//
// Available strategies:
//   - round-robin:   cyclic pointer per requirement bucket.
//   - weighted:      probability proportional to recent success rate.
//   - least-latency: deterministic minimum, ties broken by provider/model id.
//   - adaptive:      weighted blend of latency, cost, and success rate with
//     weights recomputed periodically from fleet-wide trends.
package balancer

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Strategy names accepted by New.
type Strategy string

// Strategy constants define the supported selection strategies.
const (
	RoundRobin   Strategy = "round-robin"
	Weighted     Strategy = "weighted"
	LeastLatency Strategy = "least-latency"
	Adaptive     Strategy = "adaptive"
)

// Candidate is one eligible provider/model target with the rolling stats the
// strategies score on.
type Candidate struct {
	Provider     string
	Model        string
	AvgLatency   time.Duration
	CostPerToken float64
	SuccessRate  float64
}

// Key returns the canonical "provider/model" identifier.
func (c Candidate) Key() string {
	return c.Provider + "/" + c.Model
}

// Weights are the blend coefficients used by the adaptive strategy.
type Weights struct {
	Latency float64
	Cost    float64
	Success float64
}

// DefaultWeights is the starting blend before any trend recomputation.
var DefaultWeights = Weights{Latency: 0.35, Cost: 0.25, Success: 0.4}

// Balancer selects one candidate from a pre-filtered list.
type Balancer struct {
	mu       sync.Mutex
	strategy Strategy
	cursors  map[string]int
	weights  Weights
	randFn   func() float64
}

// New creates a Balancer for the given strategy. Unknown strategies behave
// as least-latency.
func New(strategy Strategy) *Balancer {
	return &Balancer{
		strategy: strategy,
		cursors:  make(map[string]int),
		weights:  DefaultWeights,
		randFn:   rand.Float64,
	}
}

// Pick selects one candidate. bucket scopes the round-robin cursor (e.g. a
// task type) so different request classes rotate independently.
func (b *Balancer) Pick(bucket string, candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, fmt.Errorf("no candidates to balance over")
	}

	switch b.strategy {
	case RoundRobin:
		return b.pickRoundRobin(bucket, candidates), nil
	case Weighted:
		return b.pickWeighted(candidates), nil
	case Adaptive:
		return b.pickAdaptive(candidates), nil
	default:
		return pickLeastLatency(candidates), nil
	}
}

func (b *Balancer) pickRoundRobin(bucket string, candidates []Candidate) Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.cursors[bucket] % len(candidates)
	b.cursors[bucket] = i + 1
	return candidates[i]
}

// pickWeighted selects with probability proportional to success rate.
// Candidates with no history get a small floor so they are not starved.
func (b *Balancer) pickWeighted(candidates []Candidate) Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0.0
	for _, c := range candidates {
		total += successWeight(c)
	}
	r := b.randFn() * total
	cumulative := 0.0
	for _, c := range candidates {
		cumulative += successWeight(c)
		if r < cumulative {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

func successWeight(c Candidate) float64 {
	if c.SuccessRate <= 0.05 {
		return 0.05
	}
	return c.SuccessRate
}

func pickLeastLatency(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.AvgLatency < best.AvgLatency ||
			(c.AvgLatency == best.AvgLatency && c.Key() < best.Key()) {
			best = c
		}
	}
	return best
}

func (b *Balancer) pickAdaptive(candidates []Candidate) Candidate {
	b.mu.Lock()
	w := b.weights
	b.mu.Unlock()

	best := candidates[0]
	bestScore := Score(best, candidates, w)
	for _, c := range candidates[1:] {
		s := Score(c, candidates, w)
		if s > bestScore || (s == bestScore && c.Key() < best.Key()) {
			best = c
			bestScore = s
		}
	}
	return best
}

// SetWeights replaces the adaptive blend coefficients. Callers recompute
// them periodically from metrics trends via RecomputeWeights.
func (b *Balancer) SetWeights(w Weights) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.weights = w
}

// RecomputeWeights derives a new blend from the fleet-wide success rate:
// the shakier the fleet, the more weight success rate carries relative to
// latency and cost.
func RecomputeWeights(fleetSuccessRate float64) Weights {
	if fleetSuccessRate < 0 {
		fleetSuccessRate = 0
	}
	if fleetSuccessRate > 1 {
		fleetSuccessRate = 1
	}
	successWeight := 0.4 + 0.4*(1-fleetSuccessRate)
	remaining := 1 - successWeight
	return Weights{
		Latency: remaining * 0.6,
		Cost:    remaining * 0.4,
		Success: successWeight,
	}
}

// Score computes the blended score of c against the normalization bounds of
// its peer set. Higher is better; monotonic in success rate and inversely
// monotonic in latency and cost.
func Score(c Candidate, peers []Candidate, w Weights) float64 {
	maxLatency := time.Duration(1)
	maxCost := 0.0
	for _, p := range peers {
		if p.AvgLatency > maxLatency {
			maxLatency = p.AvgLatency
		}
		if p.CostPerToken > maxCost {
			maxCost = p.CostPerToken
		}
	}
	latencyScore := 1 - float64(c.AvgLatency)/float64(maxLatency)
	costScore := 1.0
	if maxCost > 0 {
		costScore = 1 - c.CostPerToken/maxCost
	}
	return w.Latency*latencyScore + w.Cost*costScore + w.Success*c.SuccessRate
}
