package insight

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/winstat/internal/insight/anomaly"
	"github.com/HerbHall/winstat/pkg/analytics"
	"github.com/HerbHall/winstat/pkg/winstat"
)

// errTooManySeries is returned when a new series would exceed max_series.
var errTooManySeries = errors.New("too many series")

// seriesState holds the sliding window and change-point detector for one
// series. StatWindow is unsynchronized, so every access goes through mu.
type seriesState struct {
	mu        sync.Mutex
	series    string
	window    *winstat.StatWindow
	cusum     *anomaly.CUSUM
	stat      winstat.InstantStat
	last      float64
	updatedAt time.Time
}

// observation is the outcome of pushing one sample into a series.
type observation struct {
	prev    winstat.InstantStat // statistics before the push
	stat    analytics.WindowStat
	checked bool // baseline was mature enough for anomaly checks
	zscore  anomaly.ZScoreResult
	cusum   anomaly.CUSUMResult
}

// observe pushes value and, once the window held at least detectAfter
// samples before this push, scores value against the pre-push statistics.
func (s *seriesState) observe(value float64, at time.Time, cfg InsightConfig) observation {
	s.mu.Lock()
	defer s.mu.Unlock()

	obs := observation{prev: s.stat}
	mature := s.window.Len() >= cfg.detectAfter()

	s.stat = s.window.Push(value)
	s.last = value
	s.updatedAt = at
	obs.stat = s.snapshotLocked()

	if mature {
		obs.checked = true
		obs.zscore = anomaly.ZScore(value, obs.prev, cfg.ZScoreThreshold)
		obs.cusum = s.cusum.Observe(value, obs.prev)
	}
	return obs
}

// replay pushes historical values without running detectors.
func (s *seriesState) replay(values []float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		s.stat = s.window.Push(v)
		s.last = v
	}
	if len(values) > 0 {
		s.updatedAt = at
	}
}

func (s *seriesState) snapshot() analytics.WindowStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *seriesState) snapshotLocked() analytics.WindowStat {
	return analytics.WindowStat{
		Series:    s.series,
		Window:    s.window.Cap(),
		Count:     s.window.Len(),
		Last:      s.last,
		Mean:      s.stat.Mean,
		StdDev:    s.stat.StdDev,
		Full:      s.window.Full(),
		UpdatedAt: s.updatedAt,
	}
}

// stateManager provides thread-safe access to per-series window state.
type stateManager struct {
	mu         sync.RWMutex
	states     map[string]*seriesState
	windowSize int
	maxSeries  int
	drift      float64
	threshold  float64
}

// newStateManager creates a state manager whose windows all hold windowSize samples.
func newStateManager(cfg InsightConfig) *stateManager {
	return &stateManager{
		states:     make(map[string]*seriesState),
		windowSize: cfg.WindowSize,
		maxSeries:  cfg.MaxSeries,
		drift:      cfg.CUSUMDrift,
		threshold:  cfg.CUSUMThreshold,
	}
}

// getOrCreate returns the state for a series, creating it if needed.
func (sm *stateManager) getOrCreate(series string) (*seriesState, error) {
	sm.mu.RLock()
	s, ok := sm.states[series]
	sm.mu.RUnlock()
	if ok {
		return s, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	// Double-check after acquiring write lock
	if s, ok = sm.states[series]; ok {
		return s, nil
	}
	if sm.maxSeries > 0 && len(sm.states) >= sm.maxSeries {
		return nil, errTooManySeries
	}
	w, err := winstat.New(sm.windowSize)
	if err != nil {
		return nil, err
	}
	s = &seriesState{
		series: series,
		window: w,
		cusum:  anomaly.NewCUSUM(sm.drift, sm.threshold),
	}
	sm.states[series] = s
	return s, nil
}

// get returns the current snapshot for a series.
func (sm *stateManager) get(series string) (analytics.WindowStat, bool) {
	sm.mu.RLock()
	s, ok := sm.states[series]
	sm.mu.RUnlock()
	if !ok {
		return analytics.WindowStat{}, false
	}
	return s.snapshot(), true
}

// resetDrift clears the change-point sums of a tracked series.
func (sm *stateManager) resetDrift(series string) {
	if sm == nil {
		return
	}
	sm.mu.RLock()
	s, ok := sm.states[series]
	sm.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.cusum.Reset()
	s.mu.Unlock()
}

// count returns the number of tracked series.
func (sm *stateManager) count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.states)
}

// snapshot returns every series' window state sorted by series name.
// The manager lock is released before the per-series locks are taken.
func (sm *stateManager) snapshot() []analytics.WindowStat {
	sm.mu.RLock()
	states := make([]*seriesState, 0, len(sm.states))
	for _, s := range sm.states {
		states = append(states, s)
	}
	sm.mu.RUnlock()

	out := make([]analytics.WindowStat, 0, len(states))
	for _, s := range states {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Series < out[j].Series })
	return out
}
