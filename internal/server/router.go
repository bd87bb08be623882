// Package server assembles the gateway's HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"bmad-gateway/internal/common/config"
	"bmad-gateway/internal/common/logger"
	"bmad-gateway/internal/common/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registrar mounts its routes on the router.
type Registrar interface {
	Register(r chi.Router)
}

// ReadinessCheck returns an error while a dependency is unavailable.
type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Logger        logger.Logger
	Observability *observability.Observability
	ChatStream    http.Handler
	ChatRoute     string
	Stages        Registrar
	Ready         []ReadinessCheck
	Metrics       http.Handler
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(deps.Logger, deps.Observability))
	r.Use(Recoverer(deps.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range deps.Ready {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not ready",
					"error":  err.Error(),
					"time":   time.Now().Format(time.RFC3339),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.Method(http.MethodGet, "/metrics", deps.Metrics)

	if deps.ChatStream != nil {
		r.Method(http.MethodPost, deps.ChatRoute, deps.ChatStream)
	}
	if deps.Stages != nil {
		deps.Stages.Register(r)
	}

	return r
}

// NewHTTPServer has no write timeout so long streams are not cut off.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: config.GetDuration(cfg.ReadHeaderTimeout),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
