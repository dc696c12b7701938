package simd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/experiment"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/metrics"
	"github.com/GoSim-25-26J-441/fedbatch-sim/internal/solver"
	"github.com/GoSim-25-26J-441/fedbatch-sim/pkg/models"
)

func newTestHTTPServer(scorer Scorer) (*HTTPServer, *RunStore, *RunExecutor) {
	store := NewRunStore()
	exec := NewRunExecutor(store, scorer, 2)
	return NewHTTPServer(store, exec), store, exec
}

func doRequest(t *testing.T, srv *HTTPServer, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid json %q: %v", method, path, rr.Body.String(), err)
	}
	return rr, resp
}

func TestHTTPServerHealthz(t *testing.T) {
	srv, _, _ := newTestHTTPServer(&fakeScorer{})
	rr, body := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["timestamp"] == "" {
		t.Fatalf("expected timestamp to be set")
	}
}

func TestHTTPServerFactors(t *testing.T) {
	srv, _, _ := newTestHTTPServer(&fakeScorer{})

	tests := []struct {
		path  string
		code  int
		count int
	}{
		{"/v1/factors", http.StatusOK, 18},
		{"/v1/factors?days=3", http.StatusOK, 11},
		{"/v1/factors?days=abc", http.StatusBadRequest, 0},
		{"/v1/factors?days=0", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr, body := doRequest(t, srv, http.MethodGet, tt.path, "")
			if rr.Code != tt.code {
				t.Fatalf("expected status %d, got %d", tt.code, rr.Code)
			}
			if tt.code != http.StatusOK {
				return
			}
			factors, _ := body["factors"].([]any)
			if len(factors) != tt.count {
				t.Errorf("expected %d factors, got %d", tt.count, len(factors))
			}
			first, _ := factors[0].(map[string]any)
			if first["key"] != "batch_glc" || first["unit"] != "mM" {
				t.Errorf("unexpected first factor %v", first)
			}
			if objs, _ := body["objectives"].([]any); len(objs) != len(experiment.ObjectiveTypes()) {
				t.Errorf("unexpected objectives %v", body["objectives"])
			}
		})
	}

	rr, _ := doRequest(t, srv, http.MethodPost, "/v1/factors", "{}")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestHTTPServerExperimentLifecycle(t *testing.T) {
	srv, store, exec := newTestHTTPServer(&fakeScorer{})
	defer exec.Shutdown()

	rr, body := doRequest(t, srv, http.MethodPost, "/v1/experiments",
		`{"run_id": "exp-1", "overrides": {"feed_glc": 200, "day_10_feed": 1.5}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %v", rr.Code, body)
	}
	created, _ := body["experiment"].(map[string]any)
	if created["id"] != "exp-1" {
		t.Fatalf("unexpected experiment %v", created)
	}

	waitForStatus(t, store, "exp-1", models.RunStatusCompleted)

	rr, body = doRequest(t, srv, http.MethodGet, "/v1/experiments/exp-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	got, _ := body["experiment"].(map[string]any)
	if got["status"] != string(models.RunStatusCompleted) || got["score"] != 200.0 {
		t.Errorf("unexpected experiment %v", got)
	}
	settings, _ := got["settings"].(map[string]any)
	if settings["day_10_feed"] != 1.5 {
		t.Errorf("expected the extended schedule in settings, got %v", settings)
	}

	rr, body = doRequest(t, srv, http.MethodGet, "/v1/experiments/exp-1/dataset", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	ds, _ := body["dataset"].(map[string]any)
	if _, ok := ds["Cmab"]; !ok {
		t.Errorf("expected Cmab in dataset, got %v", ds)
	}

	rr, _ = doRequest(t, srv, http.MethodPost, "/v1/experiments/exp-1:stop", "")
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 stopping a completed experiment, got %d", rr.Code)
	}

	rr, _ = doRequest(t, srv, http.MethodPost, "/v1/experiments", `{"run_id": "exp-1"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate run_id, got %d", rr.Code)
	}

	rr, body = doRequest(t, srv, http.MethodGet, "/v1/experiments?status=completed", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if list, _ := body["experiments"].([]any); len(list) != 1 {
		t.Errorf("expected 1 completed experiment, got %v", body["experiments"])
	}
}

func TestHTTPServerCreateRejectsBadRequests(t *testing.T) {
	srv, store, _ := newTestHTTPServer(&fakeScorer{})

	tests := []struct {
		name string
		body string
	}{
		{"unknown factor", `{"overrides": {"yield": 1}}`},
		{"out of range", `{"overrides": {"batch_temp": 80}}`},
		{"schedule gap", `{"overrides": {"day_20_feed": 1}}`},
		{"unknown field", `{"overides": {}}`},
		{"malformed", `{`},
		{"bad callback", `{"callback_url": "ftp://example.com/cb"}`},
		{"bad run id", `{"run_id": "a/b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := doRequest(t, srv, http.MethodPost, "/v1/experiments", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %v", rr.Code, body)
			}
			if body["error"] == "" {
				t.Error("expected an error message")
			}
		})
	}
	if recs := store.List(0, 0, ""); len(recs) != 0 {
		t.Errorf("rejected requests created %d records", len(recs))
	}
}

func TestHTTPServerStopRunning(t *testing.T) {
	srv, store, exec := newTestHTTPServer(&fakeScorer{block: make(chan struct{})})
	defer exec.Shutdown()

	rr, _ := doRequest(t, srv, http.MethodPost, "/v1/experiments", `{"run_id": "exp-1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	waitForStatus(t, store, "exp-1", models.RunStatusRunning)

	rr, body := doRequest(t, srv, http.MethodPost, "/v1/experiments/exp-1:stop", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %v", rr.Code, body)
	}
	got, _ := body["experiment"].(map[string]any)
	if got["status"] != string(models.RunStatusCancelled) {
		t.Errorf("expected cancelled, got %v", got["status"])
	}

	for _, tc := range []struct {
		method, path string
		code         int
	}{
		{http.MethodPost, "/v1/experiments/missing:stop", http.StatusNotFound},
		{http.MethodGet, "/v1/experiments/missing", http.StatusNotFound},
		{http.MethodGet, "/v1/experiments/exp-1/dataset", http.StatusPreconditionFailed},
		{http.MethodGet, "/v1/experiments/exp-1:stop", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/v1/experiments/exp-1", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/v1/experiments", http.StatusMethodNotAllowed},
	} {
		if rr, _ := doRequest(t, srv, tc.method, tc.path, ""); rr.Code != tc.code {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.code, rr.Code)
		}
	}
}

func TestHTTPServerScore(t *testing.T) {
	srv, _, _ := newTestHTTPServer(&fakeScorer{})

	rr, body := doRequest(t, srv, http.MethodPost, "/v1/experiments:score?dataset=true", `{"overrides": {"feed_glc": 120}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %v", rr.Code, body)
	}
	res, _ := body["result"].(map[string]any)
	if res["score"] != 120.0 || res["objective"] != "final_titer" {
		t.Errorf("unexpected result %v", res)
	}
	if _, ok := res["dataset"]; !ok {
		t.Error("expected dataset when requested")
	}

	rr, body = doRequest(t, srv, http.MethodPost, "/v1/experiments:score", `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %v", rr.Code, body)
	}
	res, _ = body["result"].(map[string]any)
	if res["score"] != 140.0 {
		t.Errorf("expected default score 140, got %v", res["score"])
	}
	if _, ok := res["dataset"]; ok {
		t.Error("dataset returned without being requested")
	}
}

func TestHTTPServerScoreErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		scorer *fakeScorer
		body   string
		code   int
		kind   models.ErrorKind
	}{
		{"config", &fakeScorer{}, `{"overrides": {"prod_temp": 50}}`, http.StatusBadRequest, models.ErrorKindConfig},
		{
			"integration",
			&fakeScorer{err: &solver.IntegrationError{Time: 10, Err: solver.ErrStepTooSmall}},
			`{}`, http.StatusUnprocessableEntity, models.ErrorKindIntegration,
		},
		{
			"contract",
			&fakeScorer{err: &experiment.ContractError{Key: "Cmab", Reason: "missing from dataset"}},
			`{}`, http.StatusBadGateway, models.ErrorKindContract,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestHTTPServer(tt.scorer)
			rr, body := doRequest(t, srv, http.MethodPost, "/v1/experiments:score", tt.body)
			if rr.Code != tt.code {
				t.Fatalf("expected status %d, got %d: %v", tt.code, rr.Code, body)
			}
			if body["error_kind"] != string(tt.kind) {
				t.Errorf("expected error kind %s, got %v", tt.kind, body["error_kind"])
			}
		})
	}
}

func TestHTTPServerMetrics(t *testing.T) {
	srv, store, exec := newTestHTTPServer(&fakeScorer{})
	defer exec.Shutdown()

	if rr, _ := doRequest(t, srv, http.MethodPost, "/v1/experiments:score", `{"overrides": {"feed_glc": 100}}`); rr.Code != http.StatusOK {
		t.Fatalf("score: expected 200, got %d", rr.Code)
	}
	if rr, _ := doRequest(t, srv, http.MethodPost, "/v1/experiments:score", `{"overrides": {"feed_glc": 1}}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("score: expected 400, got %d", rr.Code)
	}
	if rr, _ := doRequest(t, srv, http.MethodPost, "/v1/experiments", `{"run_id": "exp-1"}`); rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rr.Code)
	}
	waitForStatus(t, store, "exp-1", models.RunStatusCompleted)
	exec.Shutdown()

	rr, body := doRequest(t, srv, http.MethodGet, "/v1/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	series, _ := body["series"].([]any)
	counts := map[string]float64{}
	for _, raw := range series {
		s, _ := raw.(map[string]any)
		if s["name"] != metrics.MetricRunCount {
			continue
		}
		labels, _ := s["labels"].(map[string]any)
		agg, _ := s["aggregation"].(map[string]any)
		counts[labels["mode"].(string)+"/"+labels["status"].(string)] += agg["count"].(float64)
	}
	want := map[string]float64{"sync/completed": 1, "sync/failed": 1, "async/completed": 1}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("run_count %s = %v, want %v (all: %v)", k, counts[k], v, counts)
		}
	}

	scores := exec.Metrics().Values(metrics.MetricScore, metrics.ObjectiveLabels("final_titer"))
	if len(scores) != 2 {
		t.Errorf("expected two recorded scores, got %v", scores)
	}

	if rr, _ := doRequest(t, srv, http.MethodPost, "/v1/metrics", "{}"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}
