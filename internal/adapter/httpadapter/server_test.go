package httpadapter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/property-forecast/internal/adapter/httpadapter"
	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/forecast"
	"github.com/couchcryptid/property-forecast/internal/pipeline"
	"github.com/couchcryptid/property-forecast/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockForecaster struct {
	resp    forecast.Response
	err     error
	stats   domain.SectorStats
	known   bool
	lastReq forecast.Request
}

func (m *mockForecaster) Forecast(_ context.Context, req forecast.Request) (forecast.Response, error) {
	m.lastReq = req
	return m.resp, m.err
}

func (m *mockForecaster) SectorStats(string) (domain.SectorStats, bool, error) {
	return m.stats, m.known, m.err
}

type mockTrigger struct{ err error }

func (m mockTrigger) Trigger(context.Context) error { return m.err }

type mockLister struct {
	list   []storage.Summary
	bundle *forecast.Bundle
}

func (m mockLister) List(context.Context) ([]storage.Summary, error) { return m.list, nil }

func (m mockLister) Get(_ context.Context, id string) (*forecast.Bundle, error) {
	if m.bundle == nil || m.bundle.ID != id {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return m.bundle, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestServer(readyErr error, routes httpadapter.Routes) *httpadapter.Server {
	if routes.Forecaster == nil {
		routes.Forecaster = &mockForecaster{}
	}
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, routes, discardLogger())
}

func serve(t *testing.T, srv *httpadapter.Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	var out map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthzReturns200(t *testing.T) {
	rec, body := serve(t, newTestServer(nil, httpadapter.Routes{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec, body := serve(t, newTestServer(nil, httpadapter.Routes{}), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec, body := serve(t, newTestServer(domain.ErrNoModel, httpadapter.Routes{}), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, domain.ErrNoModel.Error(), body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(nil, httpadapter.Routes{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPredict_OK(t *testing.T) {
	f := &mockForecaster{resp: forecast.Response{
		Postcode:         "SW7 3RP",
		Sector:           "SW7 3",
		SectorKnown:      true,
		ModelID:          "bundle-1",
		CurrentValuation: domain.Valuation{Value: 650000, Currency: forecast.Currency},
		Forecasts: map[string]domain.HorizonForecast{
			"1y": {GrowthPct: 1.5, PriceValue: 659750},
		},
	}}
	srv := newTestServer(nil, httpadapter.Routes{Forecaster: f})

	rec, body := serve(t, srv, http.MethodPost, "/api/predict", `{"postcode":"sw73rp","current_price":650000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sw73rp", f.lastReq.Postcode)
	assert.InDelta(t, 650000, f.lastReq.CurrentPrice, 1e-9)
	assert.Equal(t, "SW7 3", body["sector"])
	assert.Equal(t, "bundle-1", body["model_id"])

	forecasts := body["forecasts"].(map[string]any)
	oneYear := forecasts["1y"].(map[string]any)
	assert.EqualValues(t, 659750, oneYear["price_value"])
	assert.NotContains(t, oneYear, "BaseGrowth")
}

func TestPredict_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "no model", body: `{"postcode":"E1 6AN"}`, err: domain.ErrNoModel, status: http.StatusServiceUnavailable},
		{name: "missing postcode", body: `{}`, err: domain.ErrMissingIdentifier, status: http.StatusBadRequest},
		{name: "wrapped missing postcode", body: `{"postcode":"E1"}`, err: fmt.Errorf("resolve: %w", domain.ErrMissingIdentifier), status: http.StatusBadRequest},
		{name: "bad json", body: `{"postcode":`, status: http.StatusBadRequest},
		{name: "negative price", body: `{"postcode":"E1 6AN","current_price":-1}`, status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(nil, httpadapter.Routes{Forecaster: &mockForecaster{err: tc.err}})
			rec, body := serve(t, srv, http.MethodPost, "/api/predict", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestPredict_InternalErrorHidesDetail(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	f := &mockForecaster{err: errors.New("feature schema mismatch at column 7")}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, httpadapter.Routes{Forecaster: f}, logger)

	rec, body := serve(t, srv, http.MethodPost, "/api/predict", `{"postcode":"E1 6AN"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body["error"])
	id, _ := body["request_id"].(string)
	require.NotEmpty(t, id)
	assert.NotContains(t, rec.Body.String(), "schema")
	assert.Contains(t, logs.String(), id)
	assert.Contains(t, logs.String(), "schema mismatch")
}

func TestSector_KnownAndFallback(t *testing.T) {
	stats := domain.SectorStats{Sector: "SW7 3", Year: 2024, CurrentPrice: 650000, FloodRisk: 2}

	srv := newTestServer(nil, httpadapter.Routes{Forecaster: &mockForecaster{stats: stats, known: true}})
	rec, body := serve(t, srv, http.MethodGet, "/api/sectors/SW7%203", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SW7 3", body["sector"])
	assert.EqualValues(t, 650000, body["current_price"])
	assert.Equal(t, false, body["fallback"])

	srv = newTestServer(nil, httpadapter.Routes{Forecaster: &mockForecaster{stats: domain.SectorStats{CurrentPrice: 450000}}})
	rec, body = serve(t, srv, http.MethodGet, "/api/sectors/ZZ9%209", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["fallback"])
}

func TestRetrain(t *testing.T) {
	rec, body := serve(t, newTestServer(nil, httpadapter.Routes{Retrainer: mockTrigger{}}), http.MethodPost, "/api/admin/retrain", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "retrain started", body["status"])

	rec, _ = serve(t, newTestServer(nil, httpadapter.Routes{Retrainer: mockTrigger{err: pipeline.ErrRetrainInProgress}}), http.MethodPost, "/api/admin/retrain", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOptionalRoutesAbsent(t *testing.T) {
	srv := newTestServer(nil, httpadapter.Routes{})
	rec, _ := serve(t, srv, http.MethodPost, "/api/admin/retrain", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = serve(t, srv, http.MethodGet, "/api/bundles", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBundles(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	lister := mockLister{list: []storage.Summary{{ID: "b-2", Version: 1, CreatedAt: created, Sectors: 12, Size: 2048}}}
	rec, body := serve(t, newTestServer(nil, httpadapter.Routes{Bundles: lister}), http.MethodGet, "/api/bundles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["bundles"].([]any)
	require.Len(t, list, 1)
}

func TestBundleDetail(t *testing.T) {
	b := &forecast.Bundle{
		ID:           "b-7",
		Version:      1,
		CreatedAt:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		FeatureNames: domain.FeatureNames(),
		Snapshot:     map[string]domain.SectorStats{"SW7 3": {}, "E1 6": {}},
		Reports:      forecast.Reports{Transactions: 120, Samples: 30},
	}
	srv := newTestServer(nil, httpadapter.Routes{Bundles: mockLister{bundle: b}})

	rec, body := serve(t, srv, http.MethodGet, "/api/bundles/b-7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b-7", body["id"])
	assert.EqualValues(t, 2, body["sectors"])
	assert.Len(t, body["feature_names"], len(domain.FeatureNames()))
	assert.NotContains(t, body, "regression", "model weights stay out of the response")

	rec, _ = serve(t, srv, http.MethodGet, "/api/bundles/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
