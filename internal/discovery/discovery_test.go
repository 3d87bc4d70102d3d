package discovery

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/corvid-labs/model-gateway/providers"
)

func healthyProbe(_ context.Context, _ *http.Client, _ providers.Endpoint) (*providers.HealthReport, error) {
	return &providers.HealthReport{Status: "ok", SuccessRate: 0.99, AverageLatency: 120}, nil
}

func failingProbe(_ context.Context, _ *http.Client, _ providers.Endpoint) (*providers.HealthReport, error) {
	return nil, errors.New("connection refused")
}

func newTestService(mock *clock.Mock, probe func(context.Context, *http.Client, providers.Endpoint) (*providers.HealthReport, error)) *Service {
	s := NewService(Config{
		Interval:              30 * time.Second,
		UnhealthyThreshold:    3,
		HealthCheckBackoff:    10 * time.Second,
		RecoveryCheckInterval: 5 * time.Minute,
	}, WithClock(mock), WithProbeFunc(probe))
	s.AddEndpoint("local", providers.Endpoint{BaseURL: "http://localhost:9999", HealthEndpoint: "/health"},
		providers.ModelInfo{Capabilities: []providers.Capability{providers.CapChat}})
	return s
}

func TestSuccessfulProbeRegistersProvider(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, healthyProbe)

	s.runCycle(context.Background())

	dp, ok := s.Provider("local")
	if !ok {
		t.Fatal("provider not registered after successful probe")
	}
	if dp.Health.Status != providers.StatusHealthy {
		t.Fatalf("status = %s, want healthy", dp.Health.Status)
	}
	if dp.Source != SourceProbe {
		t.Fatalf("source = %s, want probe", dp.Source)
	}
	if dp.Health.AverageLatency != 120*time.Millisecond {
		t.Fatalf("latency = %s, want 120ms", dp.Health.AverageLatency)
	}
}

func TestProbeClassifiesDegraded(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, func(_ context.Context, _ *http.Client, _ providers.Endpoint) (*providers.HealthReport, error) {
		return &providers.HealthReport{SuccessRate: 0.7, AverageLatency: 250}, nil
	})

	s.runCycle(context.Background())

	dp, _ := s.Provider("local")
	if dp.Health.Status != providers.StatusDegraded {
		t.Fatalf("status = %s, want degraded", dp.Health.Status)
	}
}

func TestFailuresBelowThresholdKeepStatus(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, healthyProbe)
	s.runCycle(context.Background())

	s.probe = failingProbe
	s.runCycle(context.Background())
	s.runCycle(context.Background())

	dp, _ := s.Provider("local")
	if dp.Health.Status != providers.StatusHealthy {
		t.Fatalf("status = %s after 2 failures, want healthy (threshold is 3)", dp.Health.Status)
	}
}

func TestThresholdFailuresFlipUnhealthyWithCooldown(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, healthyProbe)
	s.runCycle(context.Background())

	s.probe = failingProbe
	for i := 0; i < 3; i++ {
		s.runCycle(context.Background())
	}

	dp, _ := s.Provider("local")
	if dp.Health.Status != providers.StatusUnhealthy {
		t.Fatalf("status = %s after 3 failures, want unhealthy", dp.Health.Status)
	}
	if !dp.Health.InCooldown(mock.Now()) {
		t.Fatal("expected provider in cooldown after flipping unhealthy")
	}
	want := mock.Now().Add(10 * time.Second)
	if !dp.Health.CooldownUntil.Equal(want) {
		t.Fatalf("CooldownUntil = %s, want %s (base backoff)", dp.Health.CooldownUntil, want)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, healthyProbe)
	s.runCycle(context.Background())
	s.probe = failingProbe

	// Drive repeated failure cycles past the threshold, advancing past each
	// cooldown so the provider is probed again.
	backoffs := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}
	for i := 0; i < 3; i++ {
		s.runCycle(context.Background())
	}
	for _, want := range backoffs {
		dp, _ := s.Provider("local")
		got := dp.Health.CooldownUntil.Sub(dp.Health.LastHealthCheck)
		if got != want {
			t.Fatalf("backoff = %s, want %s", got, want)
		}
		mock.Add(want + time.Second)
		s.runCycle(context.Background())
	}

	// Far past doubling, backoff pins to the recovery check interval.
	for i := 0; i < 10; i++ {
		dp, _ := s.Provider("local")
		mock.Add(dp.Health.CooldownUntil.Sub(mock.Now()) + time.Second)
		s.runCycle(context.Background())
	}
	dp, _ := s.Provider("local")
	got := dp.Health.CooldownUntil.Sub(dp.Health.LastHealthCheck)
	if got != 5*time.Minute {
		t.Fatalf("capped backoff = %s, want 5m", got)
	}
}

func TestCooldownSkipsProbing(t *testing.T) {
	mock := clock.NewMock()
	probes := 0
	s := newTestService(mock, nil)
	s.probe = func(_ context.Context, _ *http.Client, _ providers.Endpoint) (*providers.HealthReport, error) {
		probes++
		if probes == 1 {
			return &providers.HealthReport{SuccessRate: 1, AverageLatency: 10}, nil
		}
		return nil, errors.New("down")
	}

	s.runCycle(context.Background()) // healthy
	for i := 0; i < 3; i++ {
		s.runCycle(context.Background()) // fail to threshold
	}
	countAtCooldown := probes

	s.runCycle(context.Background()) // inside cooldown, should skip
	if probes != countAtCooldown {
		t.Fatalf("probe ran during cooldown: %d probes, want %d", probes, countAtCooldown)
	}

	mock.Add(11 * time.Second)
	s.runCycle(context.Background())
	if probes != countAtCooldown+1 {
		t.Fatal("probe did not resume after cooldown expired")
	}
}

func TestRecoveryAfterCooldown(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, healthyProbe)
	s.runCycle(context.Background())
	s.probe = failingProbe
	for i := 0; i < 3; i++ {
		s.runCycle(context.Background())
	}

	mock.Add(11 * time.Second)
	s.probe = healthyProbe
	s.runCycle(context.Background())

	dp, _ := s.Provider("local")
	if dp.Health.Status != providers.StatusHealthy {
		t.Fatalf("status = %s after recovery probe, want healthy", dp.Health.Status)
	}
}

func TestHealthChangeEvents(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, healthyProbe)
	events := s.Subscribe()

	s.runCycle(context.Background()) // first registration, no transition event expected
	select {
	case ev := <-events:
		t.Fatalf("unexpected event on first registration: %+v", ev)
	default:
	}

	s.probe = failingProbe
	for i := 0; i < 3; i++ {
		s.runCycle(context.Background())
	}

	select {
	case ev := <-events:
		if ev.ProviderID != "local" || ev.OldStatus != providers.StatusHealthy || ev.NewStatus != providers.StatusUnhealthy {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a health-change event after flipping unhealthy")
	}
}

func TestFailuresWithoutRegistrationAreSilent(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, failingProbe)
	events := s.Subscribe()

	for i := 0; i < 5; i++ {
		s.runCycle(context.Background())
	}

	if _, ok := s.Provider("local"); ok {
		t.Fatal("never-healthy endpoint should not appear in the registry")
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event for unregistered provider: %+v", ev)
	default:
	}
}

func TestRegisterProviderManual(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, healthyProbe)

	s.RegisterProvider(DiscoveredProvider{
		ID:     "mesh-llm",
		Models: []providers.ModelInfo{{Provider: "mesh-llm", Model: "local-chat"}},
	})

	dp, ok := s.Provider("mesh-llm")
	if !ok {
		t.Fatal("manual provider not registered")
	}
	if dp.Source != SourceManual {
		t.Fatalf("source = %s, want manual", dp.Source)
	}
	if dp.Health.Status != providers.StatusHealthy {
		t.Fatalf("status = %s, want healthy default", dp.Health.Status)
	}
}

func TestRegisterProviderEmitsOnStatusChange(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, healthyProbe)
	s.RegisterProvider(DiscoveredProvider{ID: "mesh-llm"})
	events := s.Subscribe()

	s.RegisterProvider(DiscoveredProvider{
		ID:     "mesh-llm",
		Health: providers.ProviderHealth{Status: providers.StatusDegraded, SuccessRate: 0.6},
	})

	select {
	case ev := <-events:
		if ev.OldStatus != providers.StatusHealthy || ev.NewStatus != providers.StatusDegraded {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected event on manual status change")
	}
}

func TestStartTwiceErrors(t *testing.T) {
	mock := clock.NewMock()
	s := newTestService(mock, healthyProbe)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(ctx); err == nil {
		t.Fatal("second Start should error")
	}
}
