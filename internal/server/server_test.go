package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritaslab/claimreg/internal/clock"
	"github.com/veritaslab/claimreg/internal/reconcile"
	"github.com/veritaslab/claimreg/internal/registry"
	"github.com/veritaslab/claimreg/internal/ssot"
	"github.com/veritaslab/claimreg/internal/store"
	"github.com/veritaslab/claimreg/internal/testutil"
)

func createTestServer(t *testing.T) http.Handler {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cl := clock.NewLogical(0)
	reg := registry.New(s, cl, testutil.NewFixedTokenGenerator(), logger)
	rec := reconcile.New(s, cl, logger)

	promReg := prometheus.NewRegistry()
	srv := New(reg, s, ssot.New(s), rec, logger, NewMetrics(promReg))
	return srv.Router(promReg)
}

const submitBody = `{
	"module": "k7-topology",
	"values": [{
		"name": "b3",
		"number": "24",
		"category": "GEOMETRIC",
		"canonical": "BETTI_3",
		"canonical_tolerance": "1e-9"
	}],
	"formulas": [{
		"id": "f-b3",
		"category": "GEOMETRIC",
		"inputs": [],
		"outputs": ["b3"],
		"step_count": 2
	}],
	"certificates": [{
		"id": "cert-b3",
		"quantity": "b3",
		"comparator": "TOLERANCE",
		"expected": "24",
		"tolerance": "1e-9"
	}],
	"checks": [
		{"name": "check-b3", "quantity": "b3", "expect": {"lower": "23", "upper": "25"}},
		{"name": "check-open", "quantity": "b3", "expect": "NONE"}
	],
	"references": [{"key": "joyce2000", "citation": "Joyce (2000)"}]
}`

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func TestSubmitEndpoint_Commit(t *testing.T) {
	h := createTestServer(t)

	w := postJSON(t, h, "/v1/bundles", submitBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var receipt map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
	assert.Equal(t, "token-000001", receipt["token"])
	assert.NotEmpty(t, receipt["bundle_hash"])
}

func TestSubmitEndpoint_DuplicateReturns200(t *testing.T) {
	h := createTestServer(t)

	first := postJSON(t, h, "/v1/bundles", submitBody)
	require.Equal(t, http.StatusCreated, first.Code)

	second := postJSON(t, h, "/v1/bundles", submitBody)
	assert.Equal(t, http.StatusOK, second.Code)

	var receipt map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &receipt))
	assert.Equal(t, true, receipt["duplicate"])
}

func TestSubmitEndpoint_BadRequests(t *testing.T) {
	h := createTestServer(t)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"missing module", `{"values": []}`, http.StatusBadRequest},
		{"check without expect", `{
			"module": "m1",
			"checks": [{"name": "c1", "quantity": "x"}]
		}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postJSON(t, h, "/v1/bundles", tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
}

func TestSubmitEndpoint_SlotConflictIs409(t *testing.T) {
	h := createTestServer(t)

	require.Equal(t, http.StatusCreated, postJSON(t, h, "/v1/bundles", submitBody).Code)

	conflicting := `{
		"module": "k7-topology",
		"values": [{"name": "b3", "number": "25", "category": "GEOMETRIC"}]
	}`
	w := postJSON(t, h, "/v1/bundles", conflicting)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestSubmitEndpoint_CycleIs422(t *testing.T) {
	h := createTestServer(t)

	cyclic := `{
		"module": "m1",
		"formulas": [
			{"id": "f-a", "category": "DERIVED", "inputs": ["b"], "outputs": ["a"], "step_count": 1},
			{"id": "f-b", "category": "DERIVED", "inputs": ["a"], "outputs": ["b"], "step_count": 1}
		]
	}`
	w := postJSON(t, h, "/v1/bundles", cyclic)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestStatusEndpoints(t *testing.T) {
	h := createTestServer(t)
	require.Equal(t, http.StatusCreated, postJSON(t, h, "/v1/bundles", submitBody).Code)

	var module ssot.ModuleStatus
	w := getJSON(t, h, "/v1/status/k7-topology", &module)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, module.Complete())
	assert.True(t, module.CertificatesPassed)

	var global struct {
		Summary ssot.Summary        `json:"summary"`
		Modules []ssot.ModuleStatus `json:"modules"`
	}
	w = getJSON(t, h, "/v1/status", &global)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, global.Summary.TotalModules)
	require.Len(t, global.Modules, 1)
}

func TestValueEndpoints(t *testing.T) {
	h := createTestServer(t)
	require.Equal(t, http.StatusCreated, postJSON(t, h, "/v1/bundles", submitBody).Code)

	var canonical struct {
		Values []json.RawMessage `json:"values"`
	}
	w := getJSON(t, h, "/v1/values/BETTI_3", &canonical)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, canonical.Values, 1)

	var queried struct {
		Values []json.RawMessage `json:"values"`
	}
	w = getJSON(t, h, "/v1/values?module=k7-topology&latest=true", &queried)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, queried.Values, 1)

	w = getJSON(t, h, "/v1/values?category=GUESSED", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReconcileAndFaultsEndpoints(t *testing.T) {
	h := createTestServer(t)
	require.Equal(t, http.StatusCreated, postJSON(t, h, "/v1/bundles", submitBody).Code)

	// Second module diverges on BETTI_3.
	diverging := `{
		"module": "nu-mass-ladder",
		"values": [{
			"name": "betti_third",
			"number": "24.5",
			"category": "DERIVED",
			"canonical": "BETTI_3",
			"canonical_tolerance": "1e-3"
		}]
	}`
	require.Equal(t, http.StatusCreated, postJSON(t, h, "/v1/bundles", diverging).Code)

	var result reconcile.Result
	w := postJSON(t, h, "/v1/reconcile", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.NewFaults)

	var faults struct {
		Faults []json.RawMessage `json:"faults"`
	}
	w = getJSON(t, h, "/v1/faults", &faults)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, faults.Faults, 1)
}

func TestHealthAndMetrics(t *testing.T) {
	h := createTestServer(t)

	w := getJSON(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claimreg_http_request_duration_seconds")
}
