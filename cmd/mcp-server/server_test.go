package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/symcore"
	"github.com/njchilds90/symcore/internal/logging"
	"github.com/njchilds90/symcore/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics, err := symcore.NewMetrics(reg)
	require.NoError(t, err)
	pool, err := symcore.NewPool(symcore.DefaultConfig(), 2, symcore.WithMetrics(metrics))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ts := httptest.NewServer(newHandler(&server{
		pool:     pool,
		store:    store.NewMemory(),
		log:      logging.NewNop(),
		gatherer: reg,
	}))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestToolEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, out := do(t, http.MethodPost, ts.URL+"/tool", `{"tool":"eval","params":{"expr":"x + x + 2 + 3"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "5 + 2*x", out["string"])

	resp, out = do(t, http.MethodPost, ts.URL+"/tool", `{"tool":"eval","params":{"expr":"1 +"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "invalid-token", out["kind"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/tool", `{"tool":"eval"} {}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/tool", `{"tool":"eval","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSchemaAndHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, out := do(t, http.MethodGet, ts.URL+"/schema", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, out["tools"])

	resp, out = do(t, http.MethodGet, ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
	assert.EqualValues(t, 2, out["workers"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	do(t, http.MethodPost, ts.URL+"/tool", `{"tool":"eval","params":{"expr":"2 + 3"}}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "symcore_node_allocations_total")
	assert.Contains(t, buf.String(), `symcore_evaluations_total{outcome="ok"}`)
}

func TestStoreEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, out := do(t, http.MethodPut, ts.URL+"/store/sq", `{"expr":"x*x"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sq", out["key"])
	assert.Equal(t, "x^2", out["expr"])

	resp, out = do(t, http.MethodPost, ts.URL+"/store", `{"expr":"1/2 + 1/2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	generated, _ := out["key"].(string)
	assert.Len(t, generated, 36)
	assert.Equal(t, "1", out["expr"])

	resp, out = do(t, http.MethodGet, ts.URL+"/store/sq", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "x^2", out["expr"])

	resp, out = do(t, http.MethodGet, ts.URL+"/store", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []any{"sq", generated}, out["keys"])

	resp, _ = do(t, http.MethodDelete, ts.URL+"/store/sq", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, ts.URL+"/store/sq", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, ts.URL+"/store/bad", `{"expr":"(x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}
