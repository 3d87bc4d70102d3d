package providers

import (
	"testing"
	"time"
)

func TestClassifyHealth(t *testing.T) {
	tests := []struct {
		name        string
		successRate float64
		latency     time.Duration
		want        HealthStatus
	}{
		{"fast and reliable", 0.98, 150 * time.Millisecond, StatusHealthy},
		{"exactly at healthy bounds", 0.95, 999 * time.Millisecond, StatusHealthy},
		{"reliable but slow", 0.98, 1500 * time.Millisecond, StatusDegraded},
		{"slow and mediocre", 0.75, 6 * time.Second, StatusDegraded},
		{"exactly at degraded floor", 0.5, 100 * time.Millisecond, StatusDegraded},
		{"mostly failing", 0.4, 100 * time.Millisecond, StatusUnhealthy},
		{"dead", 0, 0, StatusUnhealthy},
		{"latency at one second is not healthy", 0.99, time.Second, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyHealth(tt.successRate, tt.latency); got != tt.want {
				t.Errorf("ClassifyHealth(%g, %s) = %s, want %s", tt.successRate, tt.latency, got, tt.want)
			}
		})
	}
}

func TestInCooldown(t *testing.T) {
	now := time.Now()

	h := ProviderHealth{}
	if h.InCooldown(now) {
		t.Fatal("zero CooldownUntil should never be in cooldown")
	}

	h.CooldownUntil = now.Add(time.Minute)
	if !h.InCooldown(now) {
		t.Fatal("expected in cooldown before CooldownUntil")
	}
	if h.InCooldown(now.Add(2 * time.Minute)) {
		t.Fatal("expected cooldown expired after CooldownUntil")
	}
}
