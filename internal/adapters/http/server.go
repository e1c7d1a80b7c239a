package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/idem/internal/logging"
	"github.com/aretw0/idem/internal/orders"
	"github.com/aretw0/idem/pkg/guard"
	"github.com/aretw0/idem/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP handler.
type Deps struct {
	Guard  *guard.Guard
	Orders *orders.Service
	// Routes maps request paths to their idempotency options.
	Routes map[string]middleware.Options
	// Health is consulted by /healthz when set.
	Health Pinger
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewHandler creates the HTTP handler of the demo order service.
func NewHandler(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	h := &orderHandler{orders: d.Orders, logger: d.Logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health.Ping(ctx); err != nil {
				d.Logger.Warn("Health check failed", "err", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/buyer/order", func(r chi.Router) {
		r.Use(middleware.ByRoute(d.Guard, d.Routes))
		r.Post("/create", h.create)
		r.Get("/list", h.list)
		r.Get("/detail", h.detail)
		r.Post("/cancel", h.cancel)
	})

	return enableCORS(r)
}

// MetricsHandler serves only /metrics, for a dedicated listener.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.DefaultTokenHeader+", "+middleware.CallerHeader)
		w.Header().Set("Access-Control-Expose-Headers", middleware.ReplayedHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
