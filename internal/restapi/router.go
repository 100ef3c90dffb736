// Package restapi implements the Gateway's REST surface: a thin translator
// between HTTP and bus requests adding no business logic beyond
// correlation, timeouts, and circuit-breaker checks.
package restapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hasbegun/eyed/internal/breaker"
	"github.com/hasbegun/eyed/internal/bus"
	"github.com/hasbegun/eyed/internal/config"
	"github.com/hasbegun/eyed/internal/db"
	"github.com/hasbegun/eyed/internal/health"
)

// Deps bundles everything the REST handlers need, assembled by cmd/gateway.
type Deps struct {
	Config     config.Gateway
	Bus        *bus.Client
	Breaker    *breaker.Breaker
	Store      *db.Store // nil disables /gallery, /templates, /db/*
	Gateway    *health.GatewayChecker
	EnginePing *health.EnginePing
	Logger     *slog.Logger
}

// NewRouter builds the Gateway's HTTP handler.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := mux.NewRouter()

	r.HandleFunc("/health/alive", handleAlive).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", handleReady(d.Gateway)).Methods(http.MethodGet)
	r.HandleFunc("/engine/health/ready", handleEngineReady(d.EnginePing)).Methods(http.MethodGet)

	r.HandleFunc("/analyze", handleAnalyze(d, false)).Methods(http.MethodPost)
	r.HandleFunc("/analyze/detailed", handleAnalyze(d, true)).Methods(http.MethodPost)

	r.HandleFunc("/enroll", handleEnroll(d)).Methods(http.MethodPost)
	r.HandleFunc("/enroll/batch", handleEnrollBatch(d)).Methods(http.MethodPost)

	r.HandleFunc("/gallery", handleGalleryList(d)).Methods(http.MethodGet)
	r.HandleFunc("/gallery/{identity_id}", handleGalleryDelete(d)).Methods(http.MethodDelete)
	r.HandleFunc("/templates/{id}", handleGetTemplate(d)).Methods(http.MethodGet)

	r.HandleFunc("/datasets", handleDatasetsList(d)).Methods(http.MethodGet)
	r.HandleFunc("/datasets/{name}/subjects", handleDatasetSubjects(d)).Methods(http.MethodGet)
	r.HandleFunc("/datasets/{name}/images", handleDatasetImages(d)).Methods(http.MethodGet)
	r.HandleFunc("/datasets/paths", handleDatasetPaths(d)).Methods(http.MethodPost)

	r.HandleFunc("/db/schema", handleDBSchema(d)).Methods(http.MethodGet)
	r.HandleFunc("/db/table/{name}/rows", handleDBTableRows(d)).Methods(http.MethodGet)
	r.HandleFunc("/db/row/{table}/{pk}", handleDBRow(d)).Methods(http.MethodGet)
	r.HandleFunc("/db/stats", handleDBStats(d)).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Use(corsMiddleware(d.Config.AllowedOrigins))
	r.Use(loggingMiddleware(logger))

	return r
}

func busTimeout(d Deps) time.Duration {
	if d.Config.BusRequestTimeout > 0 {
		return d.Config.BusRequestTimeout
	}
	return 8 * time.Second
}
