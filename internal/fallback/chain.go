// Package fallback builds the ordered chain of alternate provider/model
// targets a request falls back to after a primary failure.
package fallback

import (
	"sort"

	"github.com/corvid-labs/model-gateway/internal/balancer"
)

// MaxDepth caps how many fallback targets a chain carries. Deep chains add
// tail latency without improving the odds of recovery.
const MaxDepth = 5

// Manager builds fallback chains from an eligible candidate set.
type Manager struct {
	maxDepth int
}

// NewManager creates a Manager with the default depth cap.
func NewManager() *Manager {
	return &Manager{maxDepth: MaxDepth}
}

// WithMaxDepth overrides the chain depth cap. Non-positive values keep the
// default.
func (m *Manager) WithMaxDepth(n int) *Manager {
	if n > 0 {
		m.maxDepth = n
	}
	return m
}

// Build returns an ordered, de-duplicated fallback chain for the given
// primary: the remaining candidates sorted best-first by score, excluding
// the primary itself and any provider currently in cooldown.
//
// score ranks candidates (higher is better) and must match the scoring used
// to pick the primary. inCooldown reports whether a provider id is cooling
// down at chain-build time; nil means nothing is in cooldown.
func (m *Manager) Build(primary balancer.Candidate, eligible []balancer.Candidate, score func(balancer.Candidate) float64, inCooldown func(providerID string) bool) []balancer.Candidate {
	seen := map[string]bool{primary.Key(): true}
	var chain []balancer.Candidate
	for _, c := range eligible {
		if seen[c.Key()] {
			continue
		}
		if inCooldown != nil && inCooldown(c.Provider) {
			continue
		}
		seen[c.Key()] = true
		chain = append(chain, c)
	}

	sort.SliceStable(chain, func(i, j int) bool {
		si, sj := score(chain[i]), score(chain[j])
		if si != sj {
			return si > sj
		}
		return chain[i].Key() < chain[j].Key()
	})

	if len(chain) > m.maxDepth {
		chain = chain[:m.maxDepth]
	}
	return chain
}
