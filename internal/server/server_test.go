package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/recoguard/recoguard/internal/bus"
	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/fallback"
	"github.com/recoguard/recoguard/internal/governance"
	"github.com/recoguard/recoguard/internal/metrics"
	"github.com/recoguard/recoguard/internal/monitor"
	"github.com/recoguard/recoguard/internal/pkg/logger"
	"github.com/recoguard/recoguard/internal/quality"
	"github.com/recoguard/recoguard/internal/reco"
	"github.com/recoguard/recoguard/internal/span"
	"github.com/recoguard/recoguard/internal/threshold"
)

var testCatalog = reco.NewMapCatalog([]reco.Product{
	{ID: "p1", Name: "Trail Shoe", Category: "shoes", Brand: "acme", Price: 90, Popularity: 120},
	{ID: "p2", Name: "Rain Jacket", Category: "outerwear", Brand: "north", Price: 150, Popularity: 80},
	{ID: "p3", Name: "Wool Socks", Category: "accessories", Brand: "acme", Price: 15, Popularity: 200},
	{ID: "p4", Name: "Headlamp", Category: "gear", Brand: "lumen", Price: 40, Popularity: 60},
})

type testEnv struct {
	srv     *Server
	handler http.Handler
	tracker *span.Tracker
	store   *monitor.Store
	holder  *threshold.Holder
}

func newTestEnv(t *testing.T, cfg Config, holder *threshold.Holder, m *metrics.Metrics) *testEnv {
	t.Helper()
	log := logger.Discard()
	if holder == nil {
		holder = threshold.NewStaticHolder(threshold.Defaults())
	}
	tracker := span.NewTracker(span.Config{Logger: log})
	store := monitor.NewStore(monitor.Config{Logger: log})
	coord, err := governance.NewCoordinator(governance.Config{
		Scorer:     quality.NewScorer(),
		Tracker:    tracker,
		Thresholds: holder,
		Store:      store,
		Catalog:    testCatalog,
		Fallback:   fallback.NewPopularityProvider(testCatalog),
		Logger:     log,
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	srv, err := New(cfg, Deps{
		Coordinator: coord,
		Tracker:     tracker,
		Store:       store,
		Thresholds:  holder,
		Metrics:     m,
		Logger:      log,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{srv: srv, handler: srv.Handler(), tracker: tracker, store: store, holder: holder}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T            `json:"data"`
		Meta ResponseMeta `json:"meta"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	if env.Meta.RequestID == "" {
		t.Error("response meta has no request id")
	}
	return env.Data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return resp.Code
}

func evaluateBody(requestID string) map[string]any {
	return map[string]any{
		"request_id": requestID,
		"candidates": []map[string]any{
			{"item_id": "p1", "rank": 1, "confidence": 0.9, "source": "collaborative", "explanation": "because you bought running gear from acme"},
			{"item_id": "p2", "rank": 2, "confidence": 0.7, "source": "content", "explanation": "similar to items you viewed"},
		},
		"member": map[string]any{
			"member_id":  "m-1",
			"categories": []string{"shoes"},
			"brands":     []string{"acme"},
			"avg_spend":  80,
		},
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Config{Version: "test"}, nil, nil)
	w := env.do(t, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	data := decodeData[map[string]any](t, w)
	if data["status"] != "ok" || data["version"] != "test" {
		t.Errorf("health = %v", data)
	}
}

func TestSpanEndpoints(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, nil)

	if w := env.do(t, "POST", "/v1/spans/req-1/start", nil); w.Code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", w.Code)
	}
	w := env.do(t, "POST", "/v1/spans/req-1/start", nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "DUPLICATE_SPAN" {
		t.Errorf("duplicate start = %d %s, want 409 DUPLICATE_SPAN", w.Code, w.Body.String())
	}
	if w := env.do(t, "POST", "/v1/spans/req-1/stages/inference", nil); w.Code != http.StatusNoContent {
		t.Errorf("mark status = %d, want 204", w.Code)
	}
	if w := env.do(t, "POST", "/v1/spans/req-1/stages/Not-A-Stage", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad stage status = %d, want 400", w.Code)
	}
	if w := env.do(t, "POST", "/v1/spans/bad%20id/start", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
	if w := env.do(t, "GET", "/v1/spans/req-1/start", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on start = %d, want 405", w.Code)
	}

	w = env.do(t, "GET", "/v1/spans/stats?window=1h", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	stats := decodeData[span.Statistics](t, w)
	if !stats.NoData {
		t.Errorf("stats = %+v, want no data before any span ends", stats)
	}
}

func TestEvaluate(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, nil)

	env.do(t, "POST", "/v1/spans/req-eval/start", nil)
	w := env.do(t, "POST", "/v1/governance/evaluate", evaluateBody("req-eval"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}

	res := decodeData[struct {
		RequestID  string           `json:"request_id"`
		State      governance.State `json:"state"`
		Degraded   bool             `json:"degraded"`
		Candidates []reco.Candidate `json:"candidates"`
		Score      quality.Score    `json:"score"`
		Level      string           `json:"level"`
	}](t, w)
	if res.RequestID != "req-eval" {
		t.Errorf("request_id = %q", res.RequestID)
	}
	if res.State != governance.StateAccepted && res.State != governance.StateDegraded {
		t.Errorf("state = %q, want a terminal state", res.State)
	}
	if res.Level == "" || len(res.Candidates) == 0 {
		t.Errorf("result = %+v", res)
	}
	if env.tracker.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want span ended", env.tracker.InFlight())
	}

	w = env.do(t, "GET", "/v1/records?window=1h&member=m-1", nil)
	recs := decodeData[struct {
		Count int `json:"count"`
	}](t, w)
	if recs.Count != 1 {
		t.Errorf("records count = %d, want 1", recs.Count)
	}
}

func TestEvaluate_RetryReturnsFirstOutcome(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, nil)

	type outcome struct {
		Duplicate bool          `json:"duplicate"`
		Strategy  string        `json:"strategy"`
		Score     quality.Score `json:"score"`
	}
	var got [2]outcome
	for i := range got {
		w := env.do(t, "POST", "/v1/governance/evaluate", evaluateBody("req-retry"))
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d status = %d body = %s", i, w.Code, w.Body.String())
		}
		got[i] = decodeData[outcome](t, w)
	}
	if got[0].Duplicate || !got[1].Duplicate {
		t.Errorf("duplicate = %v/%v, want false/true", got[0].Duplicate, got[1].Duplicate)
	}
	if got[1].Strategy != got[0].Strategy || got[1].Score.Overall() != got[0].Score.Overall() {
		t.Errorf("retry = %+v, want first outcome %+v", got[1], got[0])
	}
	if env.store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", env.store.Len())
	}
	if env.tracker.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want the retry span dropped", env.tracker.InFlight())
	}
	if st := env.tracker.Statistics(time.Hour); st.Count != 1 {
		t.Errorf("span statistics count = %d, want 1", st.Count)
	}

	w := env.do(t, "GET", "/v1/records/req-retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("record status = %d body = %s", w.Code, w.Body.String())
	}
	rec := decodeData[monitor.Record](t, w)
	if rec.RequestID != "req-retry" || len(rec.Candidates) != rec.CandidateCount {
		t.Errorf("record = %s with %d/%d candidates", rec.RequestID, len(rec.Candidates), rec.CandidateCount)
	}

	w = env.do(t, "GET", "/v1/records/req-unknown", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "NOT_FOUND" {
		t.Errorf("unknown record status = %d, want 404 NOT_FOUND", w.Code)
	}
}

func TestEvaluate_GeneratesRequestID(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, nil)
	w := env.do(t, "POST", "/v1/governance/evaluate", evaluateBody(""))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	res := decodeData[struct {
		RequestID string `json:"request_id"`
	}](t, w)
	if res.RequestID == "" {
		t.Error("no request id generated")
	}
	if env.store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", env.store.Len())
	}
}

func TestEvaluate_Rejections(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, nil)

	noCandidates := evaluateBody("r-1")
	delete(noCandidates, "candidates")

	noMember := evaluateBody("r-2")
	delete(noMember, "member")

	badRank := evaluateBody("r-3")
	badRank["candidates"] = []map[string]any{{"item_id": "p1", "rank": 0, "confidence": 0.5, "source": "content"}}

	badConfidence := evaluateBody("r-4")
	badConfidence["candidates"] = []map[string]any{{"item_id": "p1", "rank": 1, "confidence": 1.5, "source": "content"}}

	tests := []struct {
		name string
		body any
		code string
	}{
		{"empty body", "", "INVALID_INPUT"},
		{"malformed json", "{not json", "INVALID_INPUT"},
		{"missing candidates", noCandidates, "INVALID_INPUT"},
		{"missing member", noMember, "VALIDATION_ERROR"},
		{"rank below one", badRank, "VALIDATION_ERROR"},
		{"confidence above one", badConfidence, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/v1/governance/evaluate", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
			if got := errorCode(t, w); got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
		})
	}
	if env.store.Len() != 0 {
		t.Errorf("store.Len() = %d, want nothing recorded", env.store.Len())
	}
}

func TestEvaluate_EmptyCandidateList(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, nil)
	body := evaluateBody("req-empty")
	body["candidates"] = []map[string]any{}

	w := env.do(t, "POST", "/v1/governance/evaluate", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	res := decodeData[struct {
		Degraded bool `json:"degraded"`
	}](t, w)
	// An empty list scores zero, below the degradation floor.
	if !res.Degraded {
		t.Error("empty list was not degraded")
	}
}

func TestReportsAndAlerts(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, nil)
	env.do(t, "POST", "/v1/governance/evaluate", evaluateBody("req-a"))

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"hourly report", "/v1/reports?granularity=hourly", http.StatusOK},
		{"custom report", "/v1/reports?window=30m", http.StatusOK},
		{"bad granularity", "/v1/reports?granularity=weekly", http.StatusBadRequest},
		{"bad window", "/v1/reports?window=yesterday", http.StatusBadRequest},
		{"negative window", "/v1/records?window=-1h", http.StatusBadRequest},
		{"alerts", "/v1/alerts?severity=warning", http.StatusOK},
		{"bad severity", "/v1/alerts?severity=panic", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, "GET", tt.target, nil); w.Code != tt.status {
				t.Errorf("GET %s = %d, want %d (body %s)", tt.target, w.Code, tt.status, w.Body.String())
			}
		})
	}

	w := env.do(t, "GET", "/v1/reports?granularity=hourly", nil)
	rep := decodeData[monitor.Report](t, w)
	if rep.Granularity != monitor.GranularityHourly || rep.TotalRequests != 1 {
		t.Errorf("report granularity = %q total = %d", rep.Granularity, rep.TotalRequests)
	}
}

func TestThresholds(t *testing.T) {
	t.Run("static set cannot reload", func(t *testing.T) {
		env := newTestEnv(t, Config{}, nil, nil)
		w := env.do(t, "GET", "/v1/thresholds", nil)
		got := decodeData[ThresholdsResponse](t, w)
		if got.Thresholds == nil || got.Thresholds.Degradation.Quality != 40 {
			t.Errorf("thresholds = %+v", got.Thresholds)
		}
		if w := env.do(t, "POST", "/v1/thresholds/reload", nil); w.Code != http.StatusBadRequest {
			t.Errorf("reload status = %d, want 400", w.Code)
		}
	})

	t.Run("reload from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "thresholds.yaml")
		if err := os.WriteFile(path, []byte("degradation:\n  quality: 35\n  latency_ms: 1500\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		holder, err := threshold.NewHolder(threshold.HolderConfig{Path: path, Logger: logger.Discard()})
		if err != nil {
			t.Fatal(err)
		}
		env := newTestEnv(t, Config{}, holder, nil)

		if err := os.WriteFile(path, []byte("degradation:\n  quality: 45\n  latency_ms: 1500\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		w := env.do(t, "POST", "/v1/thresholds/reload", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("reload status = %d body = %s", w.Code, w.Body.String())
		}
		got := decodeData[ThresholdsResponse](t, w)
		if got.Version != 2 || got.Thresholds.Degradation.Quality != 45 {
			t.Errorf("after reload version = %d quality = %v", got.Version, got.Thresholds.Degradation.Quality)
		}

		if err := os.WriteFile(path, []byte("degradation:\n  quality: 500\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if w := env.do(t, "POST", "/v1/thresholds/reload", nil); w.Code != http.StatusBadRequest {
			t.Errorf("invalid reload status = %d, want 400", w.Code)
		}
		if holder.Load().Degradation.Quality != 45 {
			t.Error("failed reload replaced the active set")
		}
	})
}

func TestThresholdAudit(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, nil)
	if w := env.do(t, "GET", "/v1/thresholds/audit", nil); w.Code != http.StatusNotFound || errorCode(t, w) != "NOT_FOUND" {
		t.Errorf("audit without log status = %d, want 404 NOT_FOUND", w.Code)
	}

	audit, err := threshold.OpenAuditLog(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer audit.Close()
	holder, err := threshold.NewHolder(threshold.HolderConfig{Logger: logger.Discard(), Audit: audit})
	if err != nil {
		t.Fatal(err)
	}
	env = newTestEnv(t, Config{}, holder, nil)
	env.srv.deps.Audit = audit
	env.handler = env.srv.Handler()

	next := holder.Load().Clone()
	next.Degradation.Quality = 30
	if err := holder.Store(next); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "GET", "/v1/thresholds/audit?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	got := decodeData[struct {
		Count   int                    `json:"count"`
		Entries []threshold.AuditEntry `json:"entries"`
	}](t, w)
	if got.Count != 1 || got.Entries[0].Changes[0].Field != "degradation.quality" {
		t.Errorf("audit = %+v", got)
	}

	if w := env.do(t, "GET", "/v1/thresholds/audit?limit=0", nil); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{}, nil, metrics.New())
	env.do(t, "POST", "/v1/governance/evaluate", evaluateBody("req-m"))

	w := env.do(t, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "recoguard_http_requests_total") {
		t.Error("metrics output missing HTTP request counter")
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: 1}, nil, nil)

	var limited bool
	for i := 0; i < 5; i++ {
		if w := env.do(t, "GET", "/v1/thresholds", nil); w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("no request was rate limited")
	}
	if w := env.do(t, "GET", "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200 while limited", w.Code)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSubscribeAlertLog(t *testing.T) {
	var out syncBuffer
	log := logger.NewWithWriter(&out, "debug", "text")
	b := bus.NewMemoryBus(logger.Discard())
	defer b.Close()

	ctx := context.Background()
	if err := SubscribeAlertLog(ctx, b, log); err != nil {
		t.Fatal(err)
	}
	event, err := bus.NewEvent(bus.TypeAlertRaised, "test", "req-x", evaluator.Alert{
		ID:       "a-1",
		Severity: evaluator.SeverityCritical,
		Metric:   "relevance",
		Message:  "relevance score 30.0 is below critical floor 50.0",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, bus.TopicAlerts, event); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := out.String(); strings.Contains(s, "level=ERROR") && strings.Contains(s, "a-1") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("alert not logged at error level: %q", out.String())
}
