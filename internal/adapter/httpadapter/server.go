package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/forecast"
	"github.com/couchcryptid/property-forecast/internal/pipeline"
	"github.com/couchcryptid/property-forecast/internal/storage"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 16

// Forecaster answers forecast and sector lookups.
type Forecaster interface {
	Forecast(ctx context.Context, req forecast.Request) (forecast.Response, error)
	SectorStats(sector string) (domain.SectorStats, bool, error)
}

// RetrainTrigger starts a background retrain.
type RetrainTrigger interface {
	Trigger(ctx context.Context) error
}

// BundleLister lists stored bundles, newest first, and loads one by id.
type BundleLister interface {
	List(ctx context.Context) ([]storage.Summary, error)
	Get(ctx context.Context, id string) (*forecast.Bundle, error)
}

// Routes are the API backends. Retrainer and Bundles are optional; their
// routes are not registered when nil.
type Routes struct {
	Forecaster Forecaster
	Retrainer  RetrainTrigger
	Bundles    BundleLister
}

// Server exposes the forecast API alongside health, readiness, and metrics
// endpoints.
type Server struct {
	httpServer *http.Server
	routes     Routes
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, routes Routes, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		routes: routes,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/predict", s.handlePredict)
	mux.HandleFunc("GET /api/sectors/{sector}", s.handleSector)
	if routes.Retrainer != nil {
		mux.HandleFunc("POST /api/admin/retrain", s.handleRetrain)
	}
	if routes.Bundles != nil {
		mux.HandleFunc("GET /api/bundles", s.handleBundles)
		mux.HandleFunc("GET /api/bundles/{id}", s.handleBundle)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req forecast.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CurrentPrice < 0 {
		writeError(w, http.StatusBadRequest, "current_price must not be negative")
		return
	}

	resp, err := s.routes.Forecaster.Forecast(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

// sectorResponse is a sector's snapshot. Fallback marks the defaults served
// for a sector absent from the bundle.
type sectorResponse struct {
	domain.SectorStats
	Fallback bool `json:"fallback"`
}

func (s *Server) handleSector(w http.ResponseWriter, r *http.Request) {
	stats, known, err := s.routes.Forecaster.SectorStats(r.PathValue("sector"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, sectorResponse{SectorStats: stats, Fallback: !known})
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if err := s.routes.Retrainer.Trigger(r.Context()); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "retrain started"})
}

func (s *Server) handleBundles(w http.ResponseWriter, r *http.Request) {
	list, err := s.routes.Bundles.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"bundles": list})
}

// bundleDetail is a stored bundle without its model weights.
type bundleDetail struct {
	ID           string           `json:"id"`
	Version      int              `json:"version"`
	CreatedAt    time.Time        `json:"created_at"`
	FeatureNames []string         `json:"feature_names"`
	Sectors      int              `json:"sectors"`
	Reports      forecast.Reports `json:"reports"`
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	b, err := s.routes.Bundles.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, bundleDetail{
		ID:           b.ID,
		Version:      b.Version,
		CreatedAt:    b.CreatedAt,
		FeatureNames: b.FeatureNames,
		Sectors:      len(b.Snapshot),
		Reports:      b.Reports,
	})
}

// writeServiceError maps domain errors to status codes. Unexpected errors are
// logged with a request id and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNoModel):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrMissingIdentifier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrRetrainInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		id := uuid.NewString()
		s.logger.Error("request failed",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		sharedobs.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error":      "internal error",
			"request_id": id,
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
