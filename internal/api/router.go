package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/solari-labs/adctl/internal/api/handlers/control"
	"github.com/solari-labs/adctl/internal/api/middleware"
	"github.com/solari-labs/adctl/internal/config"
	secheaders "github.com/solari-labs/adctl/pkg/middleware"
)

// RouterConfig holds the dependencies the router needs to mount the
// recommendation/execution endpoints.
type RouterConfig struct {
	Handler    *control.Handler
	RateLimits config.RateLimitsConfig
	Logger     *slog.Logger
}

// NewRouter builds the HTTP surface: request-id, logging, Prometheus
// metrics, and security headers on every route, plus rate limiting scoped
// per-route to the limits named in SPEC_FULL.md (execute/batch are the only
// endpoints that mutate ad platform state, so they get their own buckets).
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(cfg.Logger))
	router.Use(middleware.MetricsMiddleware)
	router.Use(secheaders.SecureHeaders())

	router.HandleFunc("/healthz", cfg.Handler.Healthz).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	execute := api.NewRoute().Subrouter()
	execute.Use(middleware.RateLimitMiddleware(cfg.RateLimits.ExecutePerMin, burstFor(cfg.RateLimits.ExecutePerMin)))
	execute.HandleFunc("/execute-recommendation", cfg.Handler.ExecuteRecommendation).Methods(http.MethodPost)

	batch := api.NewRoute().Subrouter()
	batch.Use(middleware.RateLimitMiddleware(cfg.RateLimits.BatchPerMin, burstFor(cfg.RateLimits.BatchPerMin)))
	batch.HandleFunc("/execute-batch", cfg.Handler.ExecuteBatch).Methods(http.MethodPost)

	api.HandleFunc("/approve", cfg.Handler.Approve).Methods(http.MethodPost)
	api.HandleFunc("/reject", cfg.Handler.Reject).Methods(http.MethodPost)
	api.HandleFunc("/status/{id}", cfg.Handler.Status).Methods(http.MethodGet)
	api.HandleFunc("/changes", cfg.Handler.Changes).Methods(http.MethodGet)

	return router
}

// burstFor derives a token bucket burst from a per-minute limit, allowing a
// short spike without granting a full minute's quota all at once.
func burstFor(perMin int) int {
	burst := perMin / 4
	if burst < 1 {
		burst = 1
	}
	return burst
}
