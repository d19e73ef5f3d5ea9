package insight

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/winstat/pkg/analytics"
)

// errAnomalyNotFound is returned by ResolveAnomaly for an unknown id.
var errAnomalyNotFound = errors.New("anomaly not found")

// InsightStore provides database access for the Insight analytics plugin.
type InsightStore struct {
	db *sql.DB
}

// NewInsightStore creates a new InsightStore backed by the given database.
func NewInsightStore(db *sql.DB) *InsightStore {
	return &InsightStore{db: db}
}

// -- Samples --

// InsertSample stores a raw sample.
func (s *InsightStore) InsertSample(ctx context.Context, p *analytics.Sample) error {
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO insight_samples (series, source, value, tags, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		p.Series, p.Source, p.Value, string(tagsJSON), p.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecentSamples returns up to limit of the newest samples for a series,
// oldest first, so they can be replayed into a window in arrival order.
func (s *InsightStore) RecentSamples(ctx context.Context, series string, limit int) ([]analytics.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT series, source, value, tags, timestamp FROM (
			SELECT id, series, source, value, tags, timestamp
			FROM insight_samples WHERE series = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		series, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent samples: %w", err)
	}
	defer rows.Close()

	var samples []analytics.Sample
	for rows.Next() {
		var p analytics.Sample
		var tagsJSON string
		if err := rows.Scan(&p.Series, &p.Source, &p.Value, &tagsJSON, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan sample row: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

// ListSeries returns the distinct series with stored samples.
func (s *InsightStore) ListSeries(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT series FROM insight_samples ORDER BY series`)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	var series []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan series row: %w", err)
		}
		series = append(series, name)
	}
	return series, rows.Err()
}

// DeleteOldSamples deletes samples older than the given time.
// Returns the number of rows deleted.
func (s *InsightStore) DeleteOldSamples(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM insight_samples WHERE timestamp < ?`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old samples: %w", err)
	}
	return result.RowsAffected()
}

// -- Windows --

// UpsertWindow inserts or updates a window snapshot.
func (s *InsightStore) UpsertWindow(ctx context.Context, w *analytics.WindowStat) error {
	full := 0
	if w.Full {
		full = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO insight_windows (
			series, window_size, count, last_value, mean, std_dev, full, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Series, w.Window, w.Count, w.Last, w.Mean, w.StdDev, full, w.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert window: %w", err)
	}
	return nil
}

// GetWindow returns the stored snapshot for a series, or nil if none exists.
func (s *InsightStore) GetWindow(ctx context.Context, series string) (*analytics.WindowStat, error) {
	var w analytics.WindowStat
	var full int
	err := s.db.QueryRowContext(ctx, `
		SELECT series, window_size, count, last_value, mean, std_dev, full, updated_at
		FROM insight_windows WHERE series = ?`,
		series,
	).Scan(&w.Series, &w.Window, &w.Count, &w.Last, &w.Mean, &w.StdDev, &full, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get window: %w", err)
	}
	w.Full = full != 0
	return &w, nil
}

// -- Anomalies --

// InsertAnomaly inserts a new anomaly record.
func (s *InsightStore) InsertAnomaly(ctx context.Context, a *analytics.Anomaly) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insight_anomalies (
			id, series, severity, type,
			value, expected, deviation, description, detected_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Series, a.Severity, a.Type,
		a.Value, a.Expected, a.Deviation, a.Description, a.DetectedAt.UTC(), a.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// AnomalyFilter narrows ListAnomalies. Zero values match everything.
type AnomalyFilter struct {
	Series     string
	ActiveOnly bool
	Limit      int
}

// ListAnomalies returns anomalies ordered by detected_at descending.
func (s *InsightStore) ListAnomalies(ctx context.Context, f AnomalyFilter) ([]analytics.Anomaly, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	query := `
		SELECT id, series, severity, type,
			value, expected, deviation, description, detected_at, resolved_at
		FROM insight_anomalies WHERE 1=1`
	var args []any
	if f.Series != "" {
		query += ` AND series = ?`
		args = append(args, f.Series)
	}
	if f.ActiveOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []analytics.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, *a)
	}
	return anomalies, rows.Err()
}

// GetAnomaly returns one anomaly by id, or errAnomalyNotFound.
func (s *InsightStore) GetAnomaly(ctx context.Context, id string) (*analytics.Anomaly, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, series, severity, type,
			value, expected, deviation, description, detected_at, resolved_at
		FROM insight_anomalies WHERE id = ?`,
		id,
	)
	a, err := scanAnomaly(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errAnomalyNotFound
	}
	return a, err
}

// ResolveAnomaly marks an anomaly as resolved. Resolving an already
// resolved anomaly keeps the original resolution time.
func (s *InsightStore) ResolveAnomaly(ctx context.Context, id string, resolvedAt time.Time) (*analytics.Anomaly, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE insight_anomalies SET resolved_at = COALESCE(resolved_at, ?) WHERE id = ?`,
		resolvedAt.UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve anomaly: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, errAnomalyNotFound
	}
	return s.GetAnomaly(ctx, id)
}

// DeleteOldAnomalies deletes resolved anomalies older than the given time.
// Returns the number of rows deleted.
func (s *InsightStore) DeleteOldAnomalies(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM insight_anomalies WHERE resolved_at IS NOT NULL AND resolved_at < ?`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old anomalies: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnomaly(row rowScanner) (*analytics.Anomaly, error) {
	var a analytics.Anomaly
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&a.ID, &a.Series, &a.Severity, &a.Type,
		&a.Value, &a.Expected, &a.Deviation, &a.Description,
		&a.DetectedAt, &resolvedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan anomaly row: %w", err)
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return &a, nil
}
