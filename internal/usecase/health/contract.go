package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Checker checks an upstream dependency (backend, assistant provider).
type Checker interface {
	HealthCheck(ctx context.Context) error
}
