package ports

import "context"

// HealthChecker is one dependency behind the scheduler's readiness probe.
type HealthChecker interface {
	// Ping returns nil when the dependency answers.
	Ping(ctx context.Context) error
	// Name is the key reported by /readyz ("postgresql", "redis").
	Name() string
}
