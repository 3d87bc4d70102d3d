package providermetrics

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestUnknownProviderReadsZeroed(t *testing.T) {
	s := New()
	m := s.ProviderMetrics("ghost")
	if m.Provider != "ghost" {
		t.Fatalf("Provider = %q, want ghost", m.Provider)
	}
	if m.TotalRequests != 0 || m.SuccessRate != 0 || m.AverageLatency != 0 {
		t.Fatalf("expected zeroed metrics, got %+v", m)
	}
}

func TestSuccessRate(t *testing.T) {
	s := New()
	for i := 0; i < 8; i++ {
		s.RecordSuccess("openai", 100*time.Millisecond, 10, 20, 0.001)
	}
	s.RecordFailure("openai", 50*time.Millisecond)
	s.RecordFailure("openai", 0)

	m := s.ProviderMetrics("openai")
	if m.TotalRequests != 10 {
		t.Fatalf("TotalRequests = %d, want 10", m.TotalRequests)
	}
	if m.SuccessCount != 8 || m.ErrorCount != 2 {
		t.Fatalf("counts = %d/%d, want 8/2", m.SuccessCount, m.ErrorCount)
	}
	if m.SuccessRate != 0.8 {
		t.Fatalf("SuccessRate = %g, want 0.8", m.SuccessRate)
	}
}

func TestTokenAndCostTotals(t *testing.T) {
	s := New()
	s.RecordSuccess("openai", time.Millisecond, 100, 200, 0.01)
	s.RecordSuccess("openai", time.Millisecond, 50, 75, 0.005)

	m := s.ProviderMetrics("openai")
	if m.PromptTokens != 150 || m.CompletionTokens != 275 {
		t.Fatalf("tokens = %d/%d, want 150/275", m.PromptTokens, m.CompletionTokens)
	}
	if m.TotalCostUSD != 0.015 {
		t.Fatalf("TotalCostUSD = %g, want 0.015", m.TotalCostUSD)
	}
}

func TestPercentiles(t *testing.T) {
	s := New()
	// 100 samples: 1ms..100ms.
	for i := 1; i <= 100; i++ {
		s.RecordLatency("openai", time.Duration(i)*time.Millisecond)
	}
	s.RecordSuccess("openai", 50*time.Millisecond, 0, 0, 0)

	m := s.ProviderMetrics("openai")
	if m.LatencyP50 < 45*time.Millisecond || m.LatencyP50 > 55*time.Millisecond {
		t.Fatalf("P50 = %s, want ~50ms", m.LatencyP50)
	}
	if m.LatencyP95 < 90*time.Millisecond || m.LatencyP95 > 100*time.Millisecond {
		t.Fatalf("P95 = %s, want ~95ms", m.LatencyP95)
	}
	if m.LatencyP99 < m.LatencyP95 {
		t.Fatalf("P99 %s < P95 %s", m.LatencyP99, m.LatencyP95)
	}
}

func TestAverageLatency(t *testing.T) {
	s := New()
	s.RecordSuccess("openai", 100*time.Millisecond, 0, 0, 0)
	s.RecordSuccess("openai", 300*time.Millisecond, 0, 0, 0)
	m := s.ProviderMetrics("openai")
	if m.AverageLatency != 200*time.Millisecond {
		t.Fatalf("AverageLatency = %s, want 200ms", m.AverageLatency)
	}
}

func TestWindowExpiry(t *testing.T) {
	mock := clock.NewMock()
	s := New(WithClock(mock), WithWindow(time.Minute))

	s.RecordFailure("openai", 10*time.Millisecond)
	mock.Add(2 * time.Minute)
	s.RecordSuccess("openai", 10*time.Millisecond, 0, 0, 0)

	m := s.ProviderMetrics("openai")
	if m.TotalRequests != 1 {
		t.Fatalf("TotalRequests = %d, want 1 after window expiry", m.TotalRequests)
	}
	if m.SuccessRate != 1 {
		t.Fatalf("SuccessRate = %g, want 1 after old failure expired", m.SuccessRate)
	}
}

func TestLatencyRingOverflow(t *testing.T) {
	s := New()
	// Overfill the ring; newest samples win.
	for i := 0; i < latencySampleSize+50; i++ {
		s.RecordLatency("openai", time.Duration(i+1)*time.Millisecond)
	}
	s.RecordSuccess("openai", time.Millisecond, 0, 0, 0)
	m := s.ProviderMetrics("openai")
	if m.LatencyP99 == 0 {
		t.Fatal("expected percentiles from ring samples")
	}
}

func TestSetRateLimit(t *testing.T) {
	s := New()
	reset := time.Now().Add(time.Minute)
	s.SetRateLimit("openai", RateLimit{Remaining: 10, Limit: 100, Reset: reset})

	m := s.ProviderMetrics("openai")
	if m.RateLimit.Remaining != 10 || m.RateLimit.Limit != 100 {
		t.Fatalf("RateLimit = %+v", m.RateLimit)
	}
}

func TestProviders(t *testing.T) {
	s := New()
	s.RecordSuccess("a", time.Millisecond, 0, 0, 0)
	s.RecordFailure("b", time.Millisecond)

	ids := s.Providers()
	if len(ids) != 2 {
		t.Fatalf("Providers = %v, want 2 ids", ids)
	}
}
