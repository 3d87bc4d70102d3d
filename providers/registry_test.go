package providers

import "testing"

func TestRegisterInheritsProviderFields(t *testing.T) {
	r := NewRegistry()
	r.Register(StaticProvider{
		ID:   "openai",
		Tier: TierStandard,
		Models: []ModelInfo{
			{Model: "gpt-4o"},
			{Model: "gpt-4o-mini", Tier: TierLow},
		},
	})

	m, ok := r.FindModel("openai", "gpt-4o")
	if !ok {
		t.Fatal("FindModel failed for registered model")
	}
	if m.Provider != "openai" {
		t.Fatalf("Provider = %q, want inherited openai", m.Provider)
	}
	if m.Tier != TierStandard {
		t.Fatalf("Tier = %q, want inherited standard", m.Tier)
	}

	m, _ = r.FindModel("openai", "gpt-4o-mini")
	if m.Tier != TierLow {
		t.Fatalf("Tier = %q, explicit tier must not be overwritten", m.Tier)
	}
}

func TestListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(StaticProvider{ID: "zeta"})
	r.Register(StaticProvider{ID: "alpha"})
	r.Register(StaticProvider{ID: "mid"})

	ids := r.List()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("List = %v, want %v", ids, want)
		}
	}
}

func TestAllModelsDeterministic(t *testing.T) {
	r := NewRegistry()
	r.Register(StaticProvider{ID: "b", Models: []ModelInfo{{Model: "b-1"}}})
	r.Register(StaticProvider{ID: "a", Models: []ModelInfo{{Model: "a-1"}, {Model: "a-2"}}})

	models := r.AllModels()
	if len(models) != 3 {
		t.Fatalf("AllModels returned %d entries, want 3", len(models))
	}
	if models[0].Key() != "a/a-1" || models[2].Key() != "b/b-1" {
		t.Fatalf("unexpected order: %v, %v, %v", models[0].Key(), models[1].Key(), models[2].Key())
	}
}

func TestFindModelMisses(t *testing.T) {
	r := NewRegistry()
	r.Register(StaticProvider{ID: "openai", Models: []ModelInfo{{Model: "gpt-4o"}}})

	if _, ok := r.FindModel("openai", "nope"); ok {
		t.Fatal("expected miss for unknown model")
	}
	if _, ok := r.FindModel("ghost", "gpt-4o"); ok {
		t.Fatal("expected miss for unknown provider")
	}
}

func TestMustGetPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustGet should panic for unknown provider")
		}
	}()
	NewRegistry().MustGet("ghost")
}

func TestCovers(t *testing.T) {
	m := ModelInfo{Capabilities: []Capability{CapChat, CapVision, CapTools}}

	if !m.Covers(nil) {
		t.Fatal("empty requirement set must be covered")
	}
	if !m.Covers([]Capability{CapChat, CapVision}) {
		t.Fatal("subset must be covered")
	}
	if m.Covers([]Capability{CapChat, CapEmbeddings}) {
		t.Fatal("missing capability must not be covered")
	}
}

func TestTierRankOrdering(t *testing.T) {
	tiers := []CostTier{TierFree, TierLow, TierStandard, TierPremium}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Rank() <= tiers[i-1].Rank() {
			t.Fatalf("Rank(%s)=%d not above Rank(%s)=%d", tiers[i], tiers[i].Rank(), tiers[i-1], tiers[i-1].Rank())
		}
	}
}
