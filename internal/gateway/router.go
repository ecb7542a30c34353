package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/talentloop/interview-gateway/internal/observability"
)

// WebSocketPath is where participants connect
const WebSocketPath = "/ws/interview"

// RouterOptions selects the optional HTTP surface
type RouterOptions struct {
	MetricsEnabled bool
	ReadyChecks    []observability.HealthCheck
}

// NewRouter mounts the interview socket next to the health, readiness and metrics endpoints
func NewRouter(ws http.Handler, opts RouterOptions, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(opts.ReadyChecks...))
	if opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Method(http.MethodGet, WebSocketPath, ws)

	return r
}

// requestLogger logs every request through zerolog once it completes
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			event := logger.Debug()
			if ww.Status() >= http.StatusInternalServerError {
				event = logger.Warn()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
