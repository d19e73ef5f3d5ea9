package insight

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// startMaintenance launches a background goroutine that periodically:
// 1. Persists in-memory window snapshots to the database.
// 2. Deletes resolved anomalies past the retention window.
// 3. Deletes raw samples past the retention window.
func (m *Module) startMaintenance() {
	if m.store == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.runMaintenance(m.ctx)
			}
		}
	}()
}

// runMaintenance executes a single maintenance cycle.
func (m *Module) runMaintenance(ctx context.Context) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	m.persistWindows(ctx)

	now := m.now()
	if m.cfg.AnomalyRetention > 0 {
		deleted, err := m.store.DeleteOldAnomalies(ctx, now.Add(-m.cfg.AnomalyRetention))
		if err != nil {
			m.logger.Warn("failed to delete old anomalies", zap.Error(err))
		} else if deleted > 0 {
			m.logger.Info("purged old anomalies", zap.Int64("count", deleted))
		}
	}

	if m.cfg.SampleRetention > 0 {
		deleted, err := m.store.DeleteOldSamples(ctx, now.Add(-m.cfg.SampleRetention))
		if err != nil {
			m.logger.Warn("failed to delete old samples", zap.Error(err))
		} else if deleted > 0 {
			m.logger.Info("purged old samples", zap.Int64("count", deleted))
		}
	}
}

// persistWindows writes every in-memory window snapshot to the database.
func (m *Module) persistWindows(ctx context.Context) {
	persisted := 0
	for _, w := range m.states.snapshot() {
		if err := m.store.UpsertWindow(ctx, &w); err != nil {
			m.logger.Warn("failed to persist window",
				zap.String("series", w.Series),
				zap.Error(err),
			)
			continue
		}
		persisted++
	}
	if persisted > 0 {
		m.logger.Debug("persisted windows", zap.Int("count", persisted))
	}
}
