package insight

import (
	"database/sql"

	"github.com/HerbHall/winstat/pkg/plugin"
)

// migrations returns the Insight module's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create window statistics tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS insight_samples (
						id         INTEGER PRIMARY KEY AUTOINCREMENT,
						series     TEXT NOT NULL,
						source     TEXT NOT NULL DEFAULT '',
						value      REAL NOT NULL,
						tags       TEXT NOT NULL DEFAULT '{}',
						timestamp  DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_insight_samples_series_time ON insight_samples(series, timestamp)`,

					`CREATE TABLE IF NOT EXISTS insight_windows (
						series      TEXT PRIMARY KEY,
						window_size INTEGER NOT NULL,
						count       INTEGER NOT NULL DEFAULT 0,
						last_value  REAL NOT NULL DEFAULT 0,
						mean        REAL NOT NULL DEFAULT 0,
						std_dev     REAL NOT NULL DEFAULT 0,
						full        INTEGER NOT NULL DEFAULT 0,
						updated_at  DATETIME NOT NULL
					)`,

					`CREATE TABLE IF NOT EXISTS insight_anomalies (
						id           TEXT PRIMARY KEY,
						series       TEXT NOT NULL,
						severity     TEXT NOT NULL DEFAULT 'warning',
						type         TEXT NOT NULL DEFAULT 'zscore',
						value        REAL NOT NULL,
						expected     REAL NOT NULL,
						deviation    REAL NOT NULL,
						description  TEXT NOT NULL DEFAULT '',
						detected_at  DATETIME NOT NULL,
						resolved_at  DATETIME
					)`,
					`CREATE INDEX IF NOT EXISTS idx_insight_anomalies_series ON insight_anomalies(series)`,
					`CREATE INDEX IF NOT EXISTS idx_insight_anomalies_detected ON insight_anomalies(detected_at)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
