// Package cli assembles the idem runtime from configuration for the command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/idem/internal/config"
	"github.com/aretw0/idem/internal/logging"
	"github.com/aretw0/idem/pkg/adapters/memory"
	"github.com/aretw0/idem/pkg/adapters/redis"
	"github.com/aretw0/idem/pkg/guard"
	"github.com/aretw0/idem/pkg/middleware"
	"github.com/aretw0/idem/pkg/observability"
	"github.com/aretw0/idem/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Runtime holds everything a command needs once configuration is resolved.
type Runtime struct {
	Config   *config.Config
	Store    ports.Store
	Guard    *guard.Guard
	Registry *prometheus.Registry
	Logger   *slog.Logger

	closer io.Closer
}

// Build creates the store, metrics registry and guard described by cfg.
func Build(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	rt := &Runtime{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	}
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("Using in-memory store; markers are not shared between processes")
		rt.Store = memory.NewStore()
	case config.StoreRedis:
		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redis.WithPrefix(cfg.Redis.Prefix))
		rt.Store = store
		rt.closer = store
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	rt.Guard = guard.New(rt.Store,
		guard.WithLockTTL(config.Millis(cfg.Guard.LockTTL)),
		guard.WithCleanupTimeout(config.Millis(cfg.Guard.CleanupTimeout)),
		guard.WithLogger(logger),
		guard.WithMetrics(observability.NewMetrics(rt.Registry)),
	)
	return rt, nil
}

// Ping checks store connectivity when the store supports it.
func (rt *Runtime) Ping(ctx context.Context) error {
	p, ok := rt.Store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return errors.Join(fmt.Errorf("store %s unreachable", rt.Config.Store), err)
	}
	return nil
}

// Routes converts the configured operations into middleware options.
func (rt *Runtime) Routes() map[string]middleware.Options {
	routes := make(map[string]middleware.Options, len(rt.Config.Operations))
	for path, op := range rt.Config.Operations {
		routes[path] = middleware.Options{
			Policy:       op.Policy(),
			RequireToken: op.RequireToken,
			Logger:       rt.Logger.With("route", path),
		}
	}
	return routes
}

// Close releases the store connection, if any.
func (rt *Runtime) Close() error {
	if rt.closer == nil {
		return nil
	}
	return rt.closer.Close()
}
