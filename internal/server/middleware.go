package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	apperrors "bmad-gateway/internal/common/errors"
	"bmad-gateway/internal/common/logger"
	"bmad-gateway/internal/common/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID keeps a caller-supplied id or generates a UUID, stores it where
// middleware.GetReqID finds it, and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLog logs one line per request and records the HTTP metrics.
func AccessLog(log logger.Logger, obs *observability.Observability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(started)
			route := routePattern(r)

			obs.RecordHTTPRequest(r.Context(), r.Method, route, status, duration)

			fields := map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"route":      route,
				"status":     status,
				"bytes":      ww.BytesWritten(),
				"durationMs": duration.Milliseconds(),
				"requestId":  middleware.GetReqID(r.Context()),
				"remoteAddr": r.RemoteAddr,
			}
			if status >= http.StatusInternalServerError {
				log.Warn("request served", fields)
				return
			}
			log.Info("request served", fields)
		})
	}
}

// Recoverer turns a handler panic into a 500 JSON error.
func Recoverer(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := middleware.GetReqID(r.Context())
				log.Error("handler panicked", map[string]interface{}{
					"panic":     fmt.Sprint(rec),
					"stack":     string(debug.Stack()),
					"requestId": requestID,
				})
				apperrors.WriteHTTPError(w, apperrors.NewInternalError(fmt.Errorf("panic: %v", rec)), requestID)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
