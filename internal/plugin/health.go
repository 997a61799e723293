package plugin

// HealthState classifies a plugin's condition. States are ordered; the
// kernel aggregates by taking the worst across all plugins.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

func (s HealthState) rank() int {
	switch s {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthUnhealthy:
		return 2
	default:
		// Unknown states are treated as degraded rather than masking a
		// problem as healthy.
		return 1
	}
}

// WorseOf returns the more severe of two states.
func WorseOf(a, b HealthState) HealthState {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// HealthCheck is one named probe inside a plugin's health report.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  HealthState `json:"status"`
	Message string      `json:"message,omitempty"`
}

// HealthResult is a plugin's full health report.
type HealthResult struct {
	Status  HealthState            `json:"status"`
	Message string                 `json:"message,omitempty"`
	Metrics map[string]interface{} `json:"metrics,omitempty"`
	Checks  []HealthCheck          `json:"checks,omitempty"`
}

// Healthy is the zero-effort report for plugins with nothing to measure.
func Healthy() HealthResult {
	return HealthResult{Status: HealthHealthy}
}
