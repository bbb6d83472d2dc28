package domain

import "time"

const (
	// HealthStatusOK indicates the dependency answered.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates the dependency answered with an error.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the dependency timed out or the probe was cancelled.
	HealthStatusError = "error"
)

// HealthCheck is the outcome of one dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes for the readiness endpoint.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
