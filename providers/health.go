package providers

import "time"

// HealthStatus classifies a provider's current health.
type HealthStatus string

// Health status constants.
const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ProviderHealth is a snapshot of a provider's classified health. Status is
// a deterministic function of SuccessRate and AverageLatency (see
// ClassifyHealth); CooldownUntil is zero unless the provider is cooling down.
type ProviderHealth struct {
	Status          HealthStatus  `json:"status"`
	SuccessRate     float64       `json:"success_rate"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastHealthCheck time.Time     `json:"last_health_check"`
	CooldownUntil   time.Time     `json:"cooldown_until,omitzero"`
}

// InCooldown reports whether the provider is cooling down at the given time.
func (h ProviderHealth) InCooldown(now time.Time) bool {
	return !h.CooldownUntil.IsZero() && now.Before(h.CooldownUntil)
}

// ClassifyHealth maps a success rate and average latency to a status.
// Evaluation order matters: healthy requires both a ≥95% success rate and
// sub-second latency; anything at or above a 50% success rate is degraded;
// below that is unhealthy.
func ClassifyHealth(successRate float64, averageLatency time.Duration) HealthStatus {
	if successRate >= 0.95 && averageLatency < time.Second {
		return StatusHealthy
	}
	if successRate >= 0.5 {
		return StatusDegraded
	}
	return StatusUnhealthy
}
