package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	httpAdapter "github.com/aretw0/idem/internal/adapters/http"
	"github.com/aretw0/idem/internal/config"
	"github.com/aretw0/idem/internal/orders"
	"golang.org/x/sync/errgroup"
)

// Servers returns the HTTP servers for rt. The second server is nil unless
// metrics are configured on their own address.
func (rt *Runtime) Servers() (*http.Server, *http.Server) {
	deps := httpAdapter.Deps{
		Guard:  rt.Guard,
		Orders: orders.NewService(),
		Routes: rt.Routes(),
		Logger: rt.Logger,
	}
	if p, ok := rt.Store.(httpAdapter.Pinger); ok {
		deps.Health = p
	}

	var metrics *http.Server
	if addr := rt.Config.Server.MetricsAddr; addr != "" {
		metrics = &http.Server{
			Addr:              addr,
			Handler:           httpAdapter.MetricsHandler(rt.Registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
	} else {
		deps.Gatherer = rt.Registry
	}

	api := &http.Server{
		Addr:              rt.Config.Server.Addr,
		Handler:           httpAdapter.NewHandler(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return api, metrics
}

// Serve runs the API (and metrics) servers until ctx is cancelled, then
// shuts them down within the configured timeout.
func Serve(ctx context.Context, rt *Runtime) error {
	api, metrics := rt.Servers()
	servers := []*http.Server{api}
	if metrics != nil {
		servers = append(servers, metrics)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			rt.Logger.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		timeout := config.Millis(rt.Config.Server.ShutdownTimeout)
		rt.Logger.Info("Shutting down", "timeout", timeout)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				rt.Logger.Warn("Graceful shutdown did not complete", "addr", srv.Addr, "err", err)
				errs = append(errs, srv.Close())
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
