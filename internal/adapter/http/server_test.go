package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	httpadapter "github.com/couchcryptid/geodata-etl/internal/adapter/http"
	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockStatus struct{}

func (mockStatus) Status() any {
	return map[string]any{"run_id": "run-1", "running": false}
}

type mockLister struct {
	gotType string
	err     error
}

func (m *mockLister) List(_ context.Context, dataType string) ([]domain.Manifest, error) {
	m.gotType = dataType
	if m.err != nil {
		return nil, m.err
	}
	return []domain.Manifest{{Filename: "roads.geojson", Filepath: "raw/osm/roads.geojson", DataType: dataType}}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, httpadapter.Options{}, discardLogger())
}

func get(srv http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(newTestServer(nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(newTestServer(nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(newTestServer(fmt.Errorf("data dir not writable")), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "data dir not writable", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(newTestServer(nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetricsEndpoint_CustomGatherer(t *testing.T) {
	m := observability.NewMetricsForTesting()
	m.BytesIngested.Add(512)
	srv := httpadapter.NewServer(":0", &mockReadiness{}, httpadapter.Options{Gatherer: m.Gatherer()}, discardLogger())

	rec := get(srv, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "geodata_etl_bytes_ingested_total 512")
}

func TestStatusEndpoint(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, get(newTestServer(nil), "/status").Code)

	srv := httpadapter.NewServer(":0", &mockReadiness{}, httpadapter.Options{Status: mockStatus{}}, discardLogger())
	rec := get(srv, "/status")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"run_id":"run-1","running":false}`, rec.Body.String())
}

func TestManifestsEndpoint(t *testing.T) {
	lister := &mockLister{}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, httpadapter.Options{Manifests: lister}, discardLogger())

	rec := get(srv, "/manifests?data_type=vector")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "vector", lister.gotType)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "raw/osm/roads.geojson", body[0]["filepath"])
}

func TestManifestsEndpoint_Error(t *testing.T) {
	lister := &mockLister{err: fmt.Errorf("db down")}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, httpadapter.Options{Manifests: lister}, discardLogger())

	rec := get(srv, "/manifests")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}
