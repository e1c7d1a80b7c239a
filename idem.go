package idem

import (
	"log/slog"
	"time"

	"github.com/aretw0/idem/pkg/adapters/memory"
	"github.com/aretw0/idem/pkg/adapters/redis"
	"github.com/aretw0/idem/pkg/domain"
	"github.com/aretw0/idem/pkg/guard"
	"github.com/aretw0/idem/pkg/observability"
	backend "github.com/redis/go-redis/v9"
)

// Version is overridden at build time with -ldflags "-X github.com/aretw0/idem.Version=...".
var Version = "0.1.0-dev"

// Guard is the idempotency guard. See guard.Guard.
type Guard = guard.Guard

// Request identifies one guarded call. See guard.Request.
type Request = guard.Request

// Policy is the per-operation idempotency declaration. See domain.Policy.
type Policy = domain.Policy

// RepeatRequestError carries the key and message of a rejected duplicate.
type RepeatRequestError = domain.RepeatRequestError

// Errors returned by Guard.RunOnce.
var (
	ErrRepeatRequest    = domain.ErrRepeatRequest
	ErrLockAcquisition  = domain.ErrLockAcquisition
	ErrStoreUnavailable = domain.ErrStoreUnavailable
	ErrInvalidKey       = domain.ErrInvalidKey
)

// config collects the options of the constructors below.
type config struct {
	keyPrefix string
	guardOpts []guard.Option
}

// Option configures NewRedis and NewMemory.
type Option func(*config)

// WithLogger sets the structured logger of the guard.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.guardOpts = append(c.guardOpts, guard.WithLogger(logger))
	}
}

// WithMetrics records guard outcomes on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *config) {
		c.guardOpts = append(c.guardOpts, guard.WithMetrics(m))
	}
}

// WithLockTTL sets the lifetime of the admission lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.guardOpts = append(c.guardOpts, guard.WithLockTTL(ttl))
	}
}

// WithKeyPrefix namespaces every stored key, so several services can share one Redis.
// It has no effect on NewMemory.
func WithKeyPrefix(prefix string) Option {
	return func(c *config) {
		c.keyPrefix = prefix
	}
}

func apply(opts []Option) *config {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRedis returns a guard that stores markers and locks in Redis.
// Any go-redis client works, including cluster and sentinel clients.
func NewRedis(client backend.UniversalClient, opts ...Option) *Guard {
	c := apply(opts)
	store := redis.NewFromClient(client, redis.WithPrefix(c.keyPrefix))
	return guard.New(store, c.guardOpts...)
}

// NewMemory returns a guard backed by a process-local store.
// It only deduplicates within one process and is meant for tests and single instances.
func NewMemory(opts ...Option) *Guard {
	c := apply(opts)
	return guard.New(memory.NewStore(), c.guardOpts...)
}
