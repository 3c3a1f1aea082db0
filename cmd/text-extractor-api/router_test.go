package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/fileformat"
	"github.com/spherical/text-extractor/internal/observability"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

type stubJobs struct{}

func (stubJobs) Submit(ctx context.Context, req *domain.JobRequest) (string, error) {
	return "t", nil
}

func (stubJobs) Process(ctx context.Context, req *domain.JobRequest) (*domain.JobRecord, error) {
	return &domain.JobRecord{TaskID: "t", State: domain.StateSuccess}, nil
}

func (stubJobs) Get(ctx context.Context, taskID string) (*domain.JobRecord, error) {
	return nil, domain.NotFound("task " + taskID + " not found")
}

func (stubJobs) ClearCache(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T, ping error) http.Handler {
	t.Helper()
	reg, err := fileformat.NewRegistry()
	require.NoError(t, err)
	return NewRouter(observability.Nop(), RouterConfig{
		AllowedOrigins: []string{"*"},
		ServiceName:    "text-extractor",
	}, Services{
		Jobs:    stubJobs{},
		Health:  stubPinger{err: ping},
		Formats: reg,
		Metrics: observability.NewMetrics(),
	})
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"text-extractor"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_NotReady(t *testing.T) {
	r := newTestRouter(t, errors.New("redis down"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_Routes(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ocr/result/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ocr/clear_cache", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ocr/clear_cache", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/ocr/upload", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
