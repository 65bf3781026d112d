package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vanntrong/qaserve-go/internal/engine"
)

// fakeEngine scripts engineAPI responses for handler tests.
type fakeEngine struct {
	bulkRes   *engine.IngestResult
	bulkErr   error
	inserted  bool
	singleErr error
	hits      []engine.SearchHit
	searchErr error
	triggered bool
	retErr    error

	lastQuery     string
	lastK         int
	lastThreshold float64
}

func (f *fakeEngine) BulkIngest(context.Context, []engine.Pair) (*engine.IngestResult, error) {
	return f.bulkRes, f.bulkErr
}

func (f *fakeEngine) SingleIngest(context.Context, string, string) (bool, error) {
	return f.inserted, f.singleErr
}

func (f *fakeEngine) Search(_ context.Context, query string, k int, threshold float64) ([]engine.SearchHit, error) {
	f.lastQuery, f.lastK, f.lastThreshold = query, k, threshold
	return f.hits, f.searchErr
}

func (f *fakeEngine) TriggerRetrain(context.Context, bool) (bool, error) {
	return f.triggered, f.retErr
}

// fakeSweeper records toggle calls.
type fakeSweeper struct{ enabled bool }

func (f *fakeSweeper) Enable()       { f.enabled = true }
func (f *fakeSweeper) Disable()      { f.enabled = false }
func (f *fakeSweeper) Enabled() bool { return f.enabled }

// fakePinger scripts a readiness probe.
type fakePinger struct {
	name string
	err  error
}

func (p *fakePinger) Name() string               { return p.name }
func (p *fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, eng engineAPI, mutate func(*Config)) *Server {
	t.Helper()
	cfg := &Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry: prometheus.NewRegistry(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(eng, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:50000"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func Test_Server_IngestReturnsCounts(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{bulkRes: &engine.IngestResult{
		Inserted: 3, SkippedEmpty: 1, SkippedDuplicate: 2, RetrainTriggered: true,
	}}
	s := newTestServer(t, eng, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/ingest",
		`{"pairs":[{"question":"q","answer":"a"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body)
	}

	var res engine.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Inserted != 3 || res.SkippedDuplicate != 2 || !res.RetrainTriggered {
		t.Fatalf("response = %+v, want scripted counts", res)
	}
}

func Test_Server_IngestValidationErrorsAre400(t *testing.T) {
	t.Parallel()

	for _, scripted := range []error{
		engine.ErrEmptyBatch,
		engine.ErrBatchTooLarge,
		engine.ErrAllRowsSkipped,
	} {
		s := newTestServer(t, &fakeEngine{bulkErr: scripted}, nil)
		rec := doJSON(t, s, http.MethodPost, "/api/ingest", `{"pairs":[]}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status for %v = %d, want 400", scripted, rec.Code)
		}
	}
}

func Test_Server_IngestBadBody(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/ingest", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func Test_Server_QAInsertAndDuplicate(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{inserted: true}, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/qa", `{"question":"q?","answer":"a"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res qaResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !res.Inserted {
		t.Fatal("inserted = false, want true")
	}

	s2 := newTestServer(t, &fakeEngine{inserted: false}, nil)
	rec = doJSON(t, s2, http.MethodPost, "/api/qa", `{"question":"q?","answer":"a"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", rec.Code)
	}
}

func Test_Server_QAEmptyAfterCleanIs400(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{singleErr: engine.ErrEmptyAfterClean}, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/qa", `{"question":"chào","answer":"a"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func Test_Server_SearchPassesParamsAndReturnsHits(t *testing.T) {
	t.Parallel()

	d := 0.25
	eng := &fakeEngine{hits: []engine.SearchHit{
		{Question: "stored question?", Answer: "stored answer", Distance: &d},
	}}
	s := newTestServer(t, eng, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/search",
		`{"question":"anything","k":3,"max_distance_threshold":0.8}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if eng.lastK != 3 || eng.lastThreshold != 0.8 || eng.lastQuery != "anything" {
		t.Fatalf("engine received (%q, %d, %v), want passthrough of request",
			eng.lastQuery, eng.lastK, eng.lastThreshold)
	}

	var hits []engine.SearchHit
	if err := json.Unmarshal(rec.Body.Bytes(), &hits); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(hits) != 1 || hits[0].Answer != "stored answer" {
		t.Fatalf("hits = %+v, want the scripted hit", hits)
	}
	if hits[0].Distance == nil || *hits[0].Distance != 0.25 {
		t.Fatalf("distance = %v, want 0.25", hits[0].Distance)
	}
}

func Test_Server_SearchThresholdOmittedVsZero(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	s := newTestServer(t, eng, nil)

	// Omitted threshold selects the engine default.
	rec := doJSON(t, s, http.MethodPost, "/api/search", `{"question":"anything"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if eng.lastThreshold != engine.DefaultDistanceThreshold {
		t.Fatalf("omitted threshold passed as %v, want default %v",
			eng.lastThreshold, engine.DefaultDistanceThreshold)
	}

	// An explicit zero is a real filter value and must survive decoding.
	rec = doJSON(t, s, http.MethodPost, "/api/search",
		`{"question":"anything","max_distance_threshold":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if eng.lastThreshold != 0 {
		t.Fatalf("explicit zero threshold passed as %v, want 0", eng.lastThreshold)
	}
}

func Test_Server_SearchEmptyQueryIs400(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{searchErr: engine.ErrEmptyQuery}, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/search", `{"question":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func Test_Server_RetrainTrigger(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{triggered: true}, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/retrain", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res retrainResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !res.Triggered {
		t.Fatal("triggered = false, want true")
	}
}

func Test_Server_RetrainNotConfiguredIs503(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{retErr: engine.ErrNoTrainer}, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/retrain", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func Test_Server_AutoSweepToggle(t *testing.T) {
	t.Parallel()

	sw := &fakeSweeper{enabled: true}
	s := newTestServer(t, &fakeEngine{}, func(cfg *Config) { cfg.Sweeper = sw })

	rec := doJSON(t, s, http.MethodPost, "/api/retrain/auto/disable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d, want 200", rec.Code)
	}
	if sw.enabled {
		t.Fatal("sweeper still enabled after disable")
	}

	rec = doJSON(t, s, http.MethodGet, "/api/retrain/auto", "")
	var res autoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Enabled {
		t.Fatal("status reports enabled after disable")
	}

	rec = doJSON(t, s, http.MethodPost, "/api/retrain/auto/enable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d, want 200", rec.Code)
	}
	if !sw.enabled {
		t.Fatal("sweeper not enabled after enable")
	}
}

func Test_Server_AutoSweepUnconfiguredIs503(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, nil)
	rec := doJSON(t, s, http.MethodGet, "/api/retrain/auto", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func Test_Server_Health(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, nil)
	rec := doJSON(t, s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func Test_Server_ReadyReflectsPingers(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{}, func(cfg *Config) {
		cfg.Pingers = []Pinger{
			&fakePinger{name: "store"},
			&fakePinger{name: "model-server", err: errors.New("connection refused")},
		}
	})

	rec := doJSON(t, s, http.MethodGet, "/api/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var res readyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Ready {
		t.Fatal("ready = true with a failing pinger")
	}
	if len(res.Checks) != 2 || res.Checks[0].OK == res.Checks[1].OK {
		t.Fatalf("checks = %+v, want one ok and one failing", res.Checks)
	}
}

func Test_Server_AuthRequiredWhenKeySet(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{triggered: true}, func(cfg *Config) {
		cfg.APIKey = "secret-token"
	})

	rec := doJSON(t, s, http.MethodPost, "/api/retrain", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/retrain", nil)
	req.RemoteAddr = "192.0.2.1:50000"
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/retrain", nil)
	req.RemoteAddr = "192.0.2.1:50000"
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with valid token = %d, want 200", rec.Code)
	}

	// Liveness stays open without a token.
	rec = doJSON(t, s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}

func Test_Server_RateLimitReturns429(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{triggered: true}, func(cfg *Config) {
		cfg.RateLimit = 0.001
		cfg.RateBurst = 1
	})

	rec := doJSON(t, s, http.MethodPost, "/api/retrain", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/api/retrain", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header on 429")
	}
}

func Test_Server_MetricsEndpointExposed(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{bulkRes: &engine.IngestResult{Inserted: 2}}
	s := newTestServer(t, eng, nil)

	if rec := doJSON(t, s, http.MethodPost, "/api/ingest", `{"pairs":[{"question":"q","answer":"a"}]}`); rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d, want 200", rec.Code)
	}

	rec := doJSON(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "qaserve_ingest_rows_total") {
		t.Fatalf("metrics output missing ingest counter:\n%s", body)
	}
}
