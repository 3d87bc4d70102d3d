package providers

import (
	"fmt"
	"sort"
)

// StaticProvider is a statically configured provider: an identifier plus the
// models it serves. The gateway merges these with discovered providers when
// building the candidate set for a request.
type StaticProvider struct {
	ID     string      `json:"id" yaml:"id"`
	Name   string      `json:"name,omitempty" yaml:"name,omitempty"`
	Tier   CostTier    `json:"tier,omitempty" yaml:"tier,omitempty"`
	Models []ModelInfo `json:"models" yaml:"models"`
}

// Registry holds a collection of static providers keyed by id.
type Registry struct {
	providers map[string]StaticProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]StaticProvider)}
}

// Register adds or replaces a provider. Model entries inherit the provider id
// and tier when they omit them.
func (r *Registry) Register(p StaticProvider) {
	for i := range p.Models {
		if p.Models[i].Provider == "" {
			p.Models[i].Provider = p.ID
		}
		if p.Models[i].Tier == "" {
			p.Models[i].Tier = p.Tier
		}
	}
	r.providers[p.ID] = p
}

// Get returns a provider by id.
func (r *Registry) Get(id string) (StaticProvider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// MustGet returns a provider by id or panics if not found.
func (r *Registry) MustGet(id string) StaticProvider {
	p, ok := r.providers[id]
	if !ok {
		panic(fmt.Sprintf("provider not found: %s", id))
	}
	return p
}

// List returns all provider ids in sorted order.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllModels returns every model from every registered provider, ordered by
// provider id for deterministic iteration.
func (r *Registry) AllModels() []ModelInfo {
	var models []ModelInfo
	for _, id := range r.List() {
		models = append(models, r.providers[id].Models...)
	}
	return models
}

// FindModel returns the ModelInfo for a provider/model pair.
func (r *Registry) FindModel(providerID, model string) (ModelInfo, bool) {
	p, ok := r.providers[providerID]
	if !ok {
		return ModelInfo{}, false
	}
	for _, m := range p.Models {
		if m.Model == model {
			return m, true
		}
	}
	return ModelInfo{}, false
}
