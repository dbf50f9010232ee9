package types

// HealthStatus is the coarse status reported by health checks.
type HealthStatus string

// Health statuses, ordered from best to worst.
const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Worse returns whichever of s and other is the worse status.
func (s HealthStatus) Worse(other HealthStatus) HealthStatus {
	if s.rank() >= other.rank() {
		return s
	}
	return other
}

func (s HealthStatus) rank() int {
	switch s {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}
