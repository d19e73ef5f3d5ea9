package insight

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/HerbHall/winstat/internal/server"
	"github.com/HerbHall/winstat/pkg/analytics"
	"github.com/HerbHall/winstat/pkg/plugin"
)

const maxBatchBytes = 1 << 20

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/windows", Handler: m.handleListWindows},
		{Method: "GET", Path: "/windows/{series...}", Handler: m.handleGetWindow},
		{Method: "GET", Path: "/anomalies", Handler: m.handleListAnomalies},
		{Method: "GET", Path: "/anomalies/{series...}", Handler: m.handleSeriesAnomalies},
		{Method: "POST", Path: "/anomalies/{id}/resolve", Handler: m.handleResolveAnomaly},
		{Method: "POST", Path: "/samples", Handler: m.handleIngest},
	}
}

// handleListWindows returns the window state of every tracked series,
// optionally restricted to series starting with ?prefix=.
//
//	@Summary		List windows
//	@Description	Returns the sliding-window statistics of every tracked series.
//	@Tags			insight
//	@Produce		json
//	@Param			prefix query string false "Series name prefix"
//	@Success		200 {array} analytics.WindowStat
//	@Router			/insight/windows [get]
func (m *Module) handleListWindows(w http.ResponseWriter, r *http.Request) {
	windows := m.Windows(r.Context())
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		filtered := windows[:0]
		for _, ws := range windows {
			if strings.HasPrefix(ws.Series, prefix) {
				filtered = append(filtered, ws)
			}
		}
		windows = filtered
	}
	if windows == nil {
		windows = []analytics.WindowStat{}
	}
	writeJSON(w, http.StatusOK, windows)
}

// handleGetWindow returns one series' window. Series not seen since start
// fall back to the last persisted snapshot.
//
//	@Summary		Series window
//	@Description	Returns the sliding-window statistics of one series.
//	@Tags			insight
//	@Produce		json
//	@Param			series path string true "Series name"
//	@Success		200 {object} analytics.WindowStat
//	@Failure		400 {object} server.Problem
//	@Failure		404 {object} server.Problem
//	@Failure		500 {object} server.Problem
//	@Router			/insight/windows/{series} [get]
func (m *Module) handleGetWindow(w http.ResponseWriter, r *http.Request) {
	series := r.PathValue("series")
	if series == "" {
		writeError(w, r, http.StatusBadRequest, "series is required")
		return
	}
	if stat, ok := m.Window(r.Context(), series); ok {
		writeJSON(w, http.StatusOK, stat)
		return
	}
	if m.store != nil {
		stat, err := m.store.GetWindow(r.Context(), series)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "failed to load window")
			return
		}
		if stat != nil {
			writeJSON(w, http.StatusOK, stat)
			return
		}
	}
	writeError(w, r, http.StatusNotFound, "no window for series "+strconv.Quote(series))
}

// handleListAnomalies returns recent anomalies across all series.
// ?active=true limits the list to unresolved anomalies.
//
//	@Summary		List anomalies
//	@Description	Returns recent anomalies across all series.
//	@Tags			insight
//	@Produce		json
//	@Param			active query bool false "Only unresolved anomalies"
//	@Param			limit query int false "Maximum results" default(50)
//	@Success		200 {array} analytics.Anomaly
//	@Failure		500 {object} server.Problem
//	@Router			/insight/anomalies [get]
func (m *Module) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	m.listAnomalies(w, r, "")
}

// handleSeriesAnomalies returns recent anomalies for one series.
//
//	@Summary		Series anomalies
//	@Description	Returns recent anomalies for one series.
//	@Tags			insight
//	@Produce		json
//	@Param			series path string true "Series name"
//	@Param			active query bool false "Only unresolved anomalies"
//	@Param			limit query int false "Maximum results" default(50)
//	@Success		200 {array} analytics.Anomaly
//	@Failure		400 {object} server.Problem
//	@Failure		500 {object} server.Problem
//	@Router			/insight/anomalies/{series} [get]
func (m *Module) handleSeriesAnomalies(w http.ResponseWriter, r *http.Request) {
	series := r.PathValue("series")
	if series == "" {
		writeError(w, r, http.StatusBadRequest, "series is required")
		return
	}
	m.listAnomalies(w, r, series)
}

func (m *Module) listAnomalies(w http.ResponseWriter, r *http.Request, series string) {
	if m.store == nil {
		writeJSON(w, http.StatusOK, []analytics.Anomaly{})
		return
	}
	anomalies, err := m.store.ListAnomalies(r.Context(), AnomalyFilter{
		Series:     series,
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Limit:      parseLimit(r, 50),
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list anomalies")
		return
	}
	if anomalies == nil {
		anomalies = []analytics.Anomaly{}
	}
	writeJSON(w, http.StatusOK, anomalies)
}

// handleResolveAnomaly marks an anomaly resolved and publishes the change.
// Resolving a change point restarts the series' drift sums.
//
//	@Summary		Resolve anomaly
//	@Description	Marks an anomaly resolved.
//	@Tags			insight
//	@Produce		json
//	@Param			id path string true "Anomaly ID"
//	@Success		200 {object} analytics.Anomaly
//	@Failure		404 {object} server.Problem
//	@Failure		500 {object} server.Problem
//	@Failure		503 {object} server.Problem
//	@Router			/insight/anomalies/{id}/resolve [post]
func (m *Module) handleResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	if m.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, "anomaly persistence is disabled")
		return
	}
	id := r.PathValue("id")
	a, err := m.store.ResolveAnomaly(r.Context(), id, m.now())
	if errors.Is(err, errAnomalyNotFound) {
		writeError(w, r, http.StatusNotFound, "anomaly "+strconv.Quote(id)+" not found")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to resolve anomaly")
		return
	}
	if a.Type == "cusum" {
		m.states.resetDrift(a.Series)
	}
	if m.bus != nil {
		// Subscribers (MQTT, WebSocket) must not hold up the response.
		m.bus.PublishAsync(context.WithoutCancel(r.Context()), plugin.Event{
			Topic:   analytics.TopicAnomalyResolved,
			Source:  "insight",
			Payload: a,
		})
	}
	writeJSON(w, http.StatusOK, a)
}

// handleIngest accepts a batch of samples and returns each sample's
// window state after it was pushed.
//
//	@Summary		Ingest samples
//	@Description	Pushes a batch of samples into their series windows.
//	@Tags			insight
//	@Accept			json
//	@Produce		json
//	@Param			request body analytics.SampleBatch true "Samples"
//	@Success		200 {object} analytics.IngestResponse
//	@Failure		400 {object} server.Problem
//	@Router			/insight/samples [post]
func (m *Module) handleIngest(w http.ResponseWriter, r *http.Request) {
	var batch analytics.SampleBatch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes))
	if err := dec.Decode(&batch); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(batch.Samples) == 0 {
		writeError(w, r, http.StatusBadRequest, "samples must not be empty")
		return
	}
	for i := range batch.Samples {
		if batch.Samples[i].Source == "" {
			batch.Samples[i].Source = "api"
		}
	}

	stats, err := m.Ingest(r.Context(), batch.Samples)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analytics.IngestResponse{
		Accepted: len(stats),
		Windows:  stats,
	})
}

// -- helpers --

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	typ := "https://winstat.dev/problems/" + strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "-")
	server.WriteProblem(w, r, typ, status, detail)
}

func parseLimit(r *http.Request, defaultLimit int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultLimit
}
