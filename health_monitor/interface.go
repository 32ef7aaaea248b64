package health_monitor

import "context"

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// Metrics are the raw readings behind a report, exposed for dashboards.
type Metrics struct {
	StuckJobs         int     `json:"stuck_jobs"`
	QueueSize         int     `json:"queue_size"`
	RecentFailureRate float64 `json:"recent_failure_rate"`
}

// Report is one health evaluation. Status is the worst level any single
// check produced; Issues explains each non-healthy check in plain language.
type Report struct {
	Status  HealthStatus `json:"status"`
	Issues  []string     `json:"issues"`
	Metrics Metrics      `json:"metrics"`
}

type Monitor interface {
	Check(ctx context.Context) (*Report, error)
}
