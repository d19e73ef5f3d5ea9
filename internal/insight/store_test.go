package insight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/winstat/internal/store"
	"github.com/HerbHall/winstat/internal/testutil"
	"github.com/HerbHall/winstat/pkg/analytics"
)

func testStore(t *testing.T) *InsightStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), "insight", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewInsightStore(db.DB())
}

// -- Samples --

func TestRecentSamples_OldestFirstAndLimited(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		p := &analytics.Sample{
			Series:    "host-1/cpu",
			Source:    "test",
			Value:     float64(i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Tags:      map[string]string{"n": "x"},
		}
		if err := s.InsertSample(ctx, p); err != nil {
			t.Fatalf("InsertSample: %v", err)
		}
	}
	if err := s.InsertSample(ctx, &analytics.Sample{Series: "host-2/cpu", Value: 9, Timestamp: base}); err != nil {
		t.Fatalf("InsertSample: %v", err)
	}

	got, err := s.RecentSamples(ctx, "host-1/cpu", 3)
	if err != nil {
		t.Fatalf("RecentSamples: %v", err)
	}
	want := []float64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i, p := range got {
		if p.Value != want[i] {
			t.Errorf("sample[%d] = %v, want %v", i, p.Value, want[i])
		}
	}
	if got[0].Tags["n"] != "x" {
		t.Errorf("tags = %v, want n=x", got[0].Tags)
	}

	series, err := s.ListSeries(ctx)
	if err != nil {
		t.Fatalf("ListSeries: %v", err)
	}
	if len(series) != 2 || series[0] != "host-1/cpu" || series[1] != "host-2/cpu" {
		t.Errorf("ListSeries = %v", series)
	}
}

func TestDeleteOldSamples(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	s.InsertSample(ctx, &analytics.Sample{Series: "a", Value: 1, Timestamp: now.Add(-48 * time.Hour)})
	s.InsertSample(ctx, &analytics.Sample{Series: "a", Value: 2, Timestamp: now})

	deleted, err := s.DeleteOldSamples(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOldSamples: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

// -- Windows --

func TestUpsertWindow_CreateAndUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	w := &analytics.WindowStat{
		Series:    "host-1/cpu",
		Window:    4,
		Count:     3,
		Last:      7.2,
		Mean:      4.3,
		StdDev:    2.1,
		UpdatedAt: time.Now().Truncate(time.Second),
	}
	if err := s.UpsertWindow(ctx, w); err != nil {
		t.Fatalf("UpsertWindow (initial): %v", err)
	}
	w.Count = 4
	w.Full = true
	if err := s.UpsertWindow(ctx, w); err != nil {
		t.Fatalf("UpsertWindow (update): %v", err)
	}

	got, err := s.GetWindow(ctx, "host-1/cpu")
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	if got == nil {
		t.Fatal("GetWindow returned nil")
	}
	if got.Count != 4 || !got.Full || got.Mean != 4.3 || got.Window != 4 {
		t.Errorf("GetWindow = %+v", got)
	}

	missing, err := s.GetWindow(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetWindow(missing) = %v, %v; want nil, nil", missing, err)
	}
}

// -- Anomalies --

func insertAnomaly(t *testing.T, s *InsightStore, id, series string, detected time.Time) {
	t.Helper()
	a := testutil.NewAnomaly(
		func(a *analytics.Anomaly) { a.ID = id },
		testutil.WithAnomalySeries(series),
		testutil.WithDetectedAt(detected),
	)
	if err := s.InsertAnomaly(context.Background(), &a); err != nil {
		t.Fatalf("InsertAnomaly: %v", err)
	}
}

func TestListAnomalies_Filters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	insertAnomaly(t, s, "a1", "host-1/cpu", now.Add(-3*time.Minute))
	insertAnomaly(t, s, "a2", "host-1/cpu", now.Add(-2*time.Minute))
	insertAnomaly(t, s, "a3", "host-2/cpu", now.Add(-1*time.Minute))
	if _, err := s.ResolveAnomaly(ctx, "a2", now); err != nil {
		t.Fatalf("ResolveAnomaly: %v", err)
	}

	tests := []struct {
		name    string
		filter  AnomalyFilter
		wantIDs []string
	}{
		{"all newest first", AnomalyFilter{}, []string{"a3", "a2", "a1"}},
		{"by series", AnomalyFilter{Series: "host-1/cpu"}, []string{"a2", "a1"}},
		{"active only", AnomalyFilter{ActiveOnly: true}, []string{"a3", "a1"}},
		{"limit", AnomalyFilter{Limit: 1}, []string{"a3"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListAnomalies(ctx, tc.filter)
			if err != nil {
				t.Fatalf("ListAnomalies: %v", err)
			}
			if len(got) != len(tc.wantIDs) {
				t.Fatalf("got %d anomalies, want %d", len(got), len(tc.wantIDs))
			}
			for i, a := range got {
				if a.ID != tc.wantIDs[i] {
					t.Errorf("anomaly[%d] = %q, want %q", i, a.ID, tc.wantIDs[i])
				}
			}
		})
	}
}

func TestResolveAnomaly(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insertAnomaly(t, s, "a1", "host-1/cpu", time.Now().UTC())
	first := time.Now().UTC().Truncate(time.Second)

	a, err := s.ResolveAnomaly(ctx, "a1", first)
	if err != nil {
		t.Fatalf("ResolveAnomaly: %v", err)
	}
	if a.ResolvedAt == nil || !a.ResolvedAt.Equal(first) {
		t.Fatalf("ResolvedAt = %v, want %v", a.ResolvedAt, first)
	}

	// Resolving twice keeps the first resolution time.
	a, err = s.ResolveAnomaly(ctx, "a1", first.Add(time.Hour))
	if err != nil {
		t.Fatalf("ResolveAnomaly (again): %v", err)
	}
	if !a.ResolvedAt.Equal(first) {
		t.Errorf("ResolvedAt = %v after second resolve, want %v", a.ResolvedAt, first)
	}

	if _, err := s.ResolveAnomaly(ctx, "missing", first); !errors.Is(err, errAnomalyNotFound) {
		t.Errorf("ResolveAnomaly(missing) error = %v, want errAnomalyNotFound", err)
	}
}

func TestDeleteOldAnomalies_OnlyResolved(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	insertAnomaly(t, s, "resolved", "a", old)
	insertAnomaly(t, s, "open", "a", old)
	s.ResolveAnomaly(ctx, "resolved", old)

	deleted, err := s.DeleteOldAnomalies(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOldAnomalies: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := s.GetAnomaly(ctx, "open"); err != nil {
		t.Errorf("unresolved anomaly was purged: %v", err)
	}
}
