package guard

import (
	"log/slog"
	"time"

	"github.com/aretw0/idem/pkg/observability"
	"github.com/aretw0/idem/pkg/ports"
)

// Option configures the Guard.
type Option func(*Guard)

// WithLocker replaces the store-backed locker.
func WithLocker(locker ports.Locker) Option {
	return func(g *Guard) {
		g.locker = locker
	}
}

// WithLockTTL sets the lifetime of the admission lock record.
func WithLockTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.lockTTL = ttl
		}
	}
}

// WithCleanupTimeout bounds lock release and marker cleanup, which run even after
// the caller's context is cancelled.
func WithCleanupTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.cleanupTimeout = d
		}
	}
}

// WithLogger configures a logger for the Guard.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithTokenGenerator replaces the lock token source. Tokens MUST be unique per call.
func WithTokenGenerator(fn func() string) Option {
	return func(g *Guard) {
		g.newToken = fn
	}
}
