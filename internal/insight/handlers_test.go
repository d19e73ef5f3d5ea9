package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/winstat/internal/server"
	"github.com/HerbHall/winstat/internal/testutil"
	"github.com/HerbHall/winstat/pkg/analytics"
	"github.com/HerbHall/winstat/pkg/plugin"
	"go.uber.org/zap"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	return newHarness(t, map[string]any{"window_size": 3}).m
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var got T
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return got
}

func TestHandleListWindows(t *testing.T) {
	m := newTestModule(t)
	m.Ingest(context.Background(), []analytics.Sample{
		testutil.NewSample(testutil.WithSeries("host-1/cpu")),
		testutil.NewSample(testutil.WithSeries("host-1/mem")),
		testutil.NewSample(testutil.WithSeries("host-2/cpu")),
	})

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all", "", 3},
		{"prefix", "?prefix=host-1/", 2},
		{"no match", "?prefix=nope", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/windows"+tc.query, http.NoBody)
			w := httptest.NewRecorder()

			m.handleListWindows(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			got := decode[[]analytics.WindowStat](t, w)
			if len(got) != tc.want {
				t.Errorf("got %d windows, want %d", len(got), tc.want)
			}
		})
	}
}

func TestHandleGetWindow(t *testing.T) {
	m := newTestModule(t)
	m.Ingest(context.Background(), testutil.Samples("host-1/cpu", 2, 4))

	req := httptest.NewRequest(http.MethodGet, "/windows/host-1/cpu", http.NoBody)
	req.SetPathValue("series", "host-1/cpu")
	w := httptest.NewRecorder()

	m.handleGetWindow(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decode[analytics.WindowStat](t, w)
	if got.Mean != 3 || got.Count != 2 || got.Window != 3 || got.Full {
		t.Errorf("window = %+v", got)
	}
}

func TestHandleGetWindow_FallsBackToStore(t *testing.T) {
	m := newTestModule(t)
	err := m.store.UpsertWindow(context.Background(), &analytics.WindowStat{
		Series: "old/series", Window: 3, Count: 3, Mean: 7, StdDev: 1, Full: true,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("UpsertWindow: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/windows/old/series", http.NoBody)
	req.SetPathValue("series", "old/series")
	w := httptest.NewRecorder()

	m.handleGetWindow(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decode[analytics.WindowStat](t, w); got.Mean != 7 {
		t.Errorf("Mean = %v, want 7", got.Mean)
	}
}

func TestHandleGetWindow_NotFound(t *testing.T) {
	m := newTestModule(t)

	req := httptest.NewRequest(http.MethodGet, "/windows/missing", http.NoBody)
	req.SetPathValue("series", "missing")
	w := httptest.NewRecorder()

	m.handleGetWindow(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
}

func TestHandleListAnomalies_Empty(t *testing.T) {
	m := newTestModule(t)

	req := httptest.NewRequest(http.MethodGet, "/anomalies", http.NoBody)
	w := httptest.NewRecorder()

	m.handleListAnomalies(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decode[[]analytics.Anomaly](t, w); len(got) != 0 {
		t.Errorf("expected empty array, got %d items", len(got))
	}
}

func TestHandleSeriesAnomalies(t *testing.T) {
	m := newTestModule(t)
	m.Ingest(context.Background(), []analytics.Sample{
		{Series: "a", Value: 10}, {Series: "a", Value: 12}, {Series: "a", Value: 10},
		{Series: "a", Value: 500},
		{Series: "b", Value: 1},
	})

	req := httptest.NewRequest(http.MethodGet, "/anomalies/a?active=true", http.NoBody)
	req.SetPathValue("series", "a")
	w := httptest.NewRecorder()

	m.handleSeriesAnomalies(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	got := decode[[]analytics.Anomaly](t, w)
	if len(got) == 0 {
		t.Fatal("expected anomalies for series a")
	}
	for _, a := range got {
		if a.Series != "a" || a.ResolvedAt != nil {
			t.Errorf("unexpected anomaly %+v", a)
		}
	}
}

func TestHandleResolveAnomaly(t *testing.T) {
	h := newHarness(t, map[string]any{"window_size": 3})
	h.ingest(t, "a", 10, 12, 10, 500)
	detected := h.rec.topic(analytics.TopicAnomalyDetected)
	if len(detected) == 0 {
		t.Fatal("no anomaly detected")
	}
	id := detected[0].Payload.(*analytics.Anomaly).ID

	req := httptest.NewRequest(http.MethodPost, "/anomalies/"+id+"/resolve", http.NoBody)
	req.SetPathValue("id", id)
	w := httptest.NewRecorder()

	h.m.handleResolveAnomaly(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := decode[analytics.Anomaly](t, w); got.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}
	if err := h.bus.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := len(h.rec.topic(analytics.TopicAnomalyResolved)); n != 1 {
		t.Errorf("resolved events = %d, want 1", n)
	}
}

func TestHandleResolveAnomaly_NotFound(t *testing.T) {
	m := newTestModule(t)

	req := httptest.NewRequest(http.MethodPost, "/anomalies/nope/resolve", http.NoBody)
	req.SetPathValue("id", "nope")
	w := httptest.NewRecorder()

	m.handleResolveAnomaly(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleResolveAnomaly_ResetsDrift(t *testing.T) {
	h := newHarness(t, map[string]any{"window_size": 3})
	h.ingest(t, "a", 10, 12, 10)
	state, err := h.m.states.getOrCreate("a")
	if err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	state.cusum.High, state.cusum.Low = 3.5, 1.25

	tests := []struct {
		name     string
		typ      string
		wantHigh float64
	}{
		{"zscore keeps sums", "zscore", 3.5},
		{"cusum clears sums", "cusum", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := &analytics.Anomaly{
				ID:         "an-" + tc.typ,
				Series:     "a",
				Severity:   "warning",
				Type:       tc.typ,
				DetectedAt: time.Now(),
			}
			if err := h.m.store.InsertAnomaly(context.Background(), a); err != nil {
				t.Fatalf("InsertAnomaly: %v", err)
			}

			req := httptest.NewRequest(http.MethodPost, "/anomalies/"+a.ID+"/resolve", http.NoBody)
			req.SetPathValue("id", a.ID)
			w := httptest.NewRecorder()

			h.m.handleResolveAnomaly(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
			}
			state.mu.Lock()
			high := state.cusum.High
			state.mu.Unlock()
			if high != tc.wantHigh {
				t.Errorf("cusum.High = %v, want %v", high, tc.wantHigh)
			}
		})
	}
}

func TestWriteError_CarriesRequestContext(t *testing.T) {
	m := newTestModule(t)
	handler := server.RequestIDMiddleware(http.HandlerFunc(m.handleGetWindow))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/insight/windows/missing", http.NoBody)
	req.SetPathValue("series", "missing")
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
	got := decode[server.Problem](t, w)
	if got.RequestID != "req-42" {
		t.Errorf("request_id = %q, want req-42", got.RequestID)
	}
	if got.Instance != "/api/v1/insight/windows/missing" {
		t.Errorf("instance = %q", got.Instance)
	}
	if got.Type != "https://winstat.dev/problems/not-found" || got.Status != http.StatusNotFound {
		t.Errorf("problem = %+v", got)
	}
}

func TestHandleResolveAnomaly_NoStore(t *testing.T) {
	m := New()
	if err := m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/anomalies/x/resolve", http.NoBody)
	req.SetPathValue("id", "x")
	w := httptest.NewRecorder()

	m.handleResolveAnomaly(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleIngest(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCount  int
	}{
		{
			name:       "valid batch",
			body:       `{"samples":[{"series":"a","value":1},{"series":"a","value":3}]}`,
			wantStatus: http.StatusOK,
			wantCount:  2,
		},
		{
			name:       "empty batch",
			body:       `{"samples":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			body:       `{"samples":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing series",
			body:       `{"samples":[{"series":"a","value":1},{"value":2}]}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestModule(t)
			req := httptest.NewRequest(http.MethodPost, "/samples", strings.NewReader(tc.body))
			w := httptest.NewRecorder()

			m.handleIngest(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.wantStatus, w.Body.String())
			}
			if tc.wantStatus != http.StatusOK {
				if n := m.states.count(); n != 0 {
					t.Errorf("series tracked after rejected batch = %d, want 0", n)
				}
				return
			}
			got := decode[analytics.IngestResponse](t, w)
			if got.Accepted != tc.wantCount || len(got.Windows) != tc.wantCount {
				t.Errorf("response = %+v", got)
			}
			if last := got.Windows[len(got.Windows)-1]; last.Mean != 2 {
				t.Errorf("last mean = %v, want 2", last.Mean)
			}
		})
	}
}

func TestHandleIngest_DefaultsSourceToAPI(t *testing.T) {
	m := newTestModule(t)
	body, _ := json.Marshal(analytics.SampleBatch{Samples: []analytics.Sample{{Series: "a", Value: 1}}})

	req := httptest.NewRequest(http.MethodPost, "/samples", bytes.NewReader(body))
	w := httptest.NewRecorder()
	m.handleIngest(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	samples, err := m.store.RecentSamples(context.Background(), "a", 1)
	if err != nil || len(samples) != 1 {
		t.Fatalf("RecentSamples = %v, %v", samples, err)
	}
	if samples[0].Source != "api" {
		t.Errorf("Source = %q, want api", samples[0].Source)
	}
}

func TestRoutes_ServeThroughMux(t *testing.T) {
	m := newTestModule(t)
	m.Ingest(context.Background(), []analytics.Sample{{Series: "host-1/cpu", Value: 5}})

	mux := http.NewServeMux()
	for _, r := range m.Routes() {
		mux.HandleFunc(r.Method+" "+r.Path, r.Handler)
	}

	req := httptest.NewRequest(http.MethodGet, "/windows/host-1/cpu", http.NoBody)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decode[analytics.WindowStat](t, w); got.Series != "host-1/cpu" {
		t.Errorf("Series = %q", got.Series)
	}
}
