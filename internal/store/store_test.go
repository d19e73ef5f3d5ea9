package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/HerbHall/winstat/pkg/plugin"
)

func tempDB(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_creates_database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestNew_invalid_path(t *testing.T) {
	if _, err := New("/nonexistent/path/to/db"); err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestNew_memory(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:): %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestTx(t *testing.T) {
	tests := []struct {
		name      string
		fnErr     error
		wantCount int
	}{
		{name: "commit", fnErr: nil, wantCount: 1},
		{name: "rollback", fnErr: sql.ErrNoRows, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()

			if _, err := s.DB().ExecContext(ctx, "CREATE TABLE samples (id INTEGER PRIMARY KEY, value REAL)"); err != nil {
				t.Fatalf("create table: %v", err)
			}

			err := s.Tx(ctx, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, "INSERT INTO samples (id, value) VALUES (1, 4.2)"); err != nil {
					return err
				}
				return tt.fnErr
			})
			if !errors.Is(err, tt.fnErr) {
				t.Fatalf("Tx error = %v, want %v", err, tt.fnErr)
			}

			var count int
			if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM samples").Scan(&count); err != nil {
				t.Fatalf("count: %v", err)
			}
			if count != tt.wantCount {
				t.Errorf("count = %d, want %d", count, tt.wantCount)
			}
		})
	}
}

func tableMigration(version int, table string) plugin.Migration {
	return plugin.Migration{
		Version:     version,
		Description: "create " + table,
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE " + table + " (id INTEGER PRIMARY KEY)")
			return err
		},
	}
}

func TestMigrate_applies_and_skips(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	migrations := []plugin.Migration{
		tableMigration(1, "insight_a"),
		tableMigration(2, "insight_b"),
	}
	if err := s.Migrate(ctx, "insight", migrations); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Second run would fail on CREATE TABLE if not skipped.
	if err := s.Migrate(ctx, "insight", migrations); err != nil {
		t.Fatalf("Migrate (second run): %v", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _migrations WHERE plugin_name = 'insight'").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("applied migrations = %d, want 2", count)
	}
}

func TestMigrate_plugins_isolated(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if err := s.Migrate(ctx, "insight", []plugin.Migration{tableMigration(1, "insight_a")}); err != nil {
		t.Fatalf("Migrate insight: %v", err)
	}
	if err := s.Migrate(ctx, "probe", []plugin.Migration{tableMigration(1, "probe_a")}); err != nil {
		t.Fatalf("Migrate probe: %v", err)
	}
}

func TestMigrate_resumes_after_partial_history(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if err := s.Migrate(ctx, "insight", []plugin.Migration{tableMigration(1, "insight_a")}); err != nil {
		t.Fatalf("Migrate v1: %v", err)
	}
	all := []plugin.Migration{tableMigration(1, "insight_a"), tableMigration(2, "insight_b")}
	if err := s.Migrate(ctx, "insight", all); err != nil {
		t.Fatalf("Migrate v1..v2: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, "INSERT INTO insight_b (id) VALUES (1)"); err != nil {
		t.Errorf("insight_b not created: %v", err)
	}
}

func TestMigrate_rejects_unordered(t *testing.T) {
	tests := []struct {
		name     string
		versions []int
	}{
		{"descending", []int{2, 1}},
		{"duplicate", []int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tempDB(t)
			var migrations []plugin.Migration
			for i, v := range tt.versions {
				migrations = append(migrations, tableMigration(v, fmt.Sprintf("t%d", i)))
			}
			err := s.Migrate(context.Background(), "insight", migrations)
			if !errors.Is(err, ErrMigrationOrder) {
				t.Fatalf("Migrate error = %v, want ErrMigrationOrder", err)
			}
		})
	}
}

func TestMigrate_failure_rolls_back(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	bad := plugin.Migration{
		Version:     1,
		Description: "broken",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec("CREATE TABLE half (id INTEGER)"); err != nil {
				return err
			}
			_, err := tx.Exec("NOT SQL")
			return err
		},
	}
	if err := s.Migrate(ctx, "insight", []plugin.Migration{bad}); err == nil {
		t.Fatal("expected migration error")
	}

	var name string
	err := s.DB().QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='half'").Scan(&name)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("table from failed migration exists (err=%v)", err)
	}
}

func TestWAL_mode_enabled(t *testing.T) {
	s := tempDB(t)
	var mode string
	if err := s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name       string
		stored     string
		current    string
		wantErr    error
		wantStored string
	}{
		{name: "same version", stored: "1.2.0", current: "1.2.0", wantStored: "1.2.0"},
		{name: "newer binary upgrades", stored: "1.2.0", current: "1.3.0", wantStored: "1.3.0"},
		{name: "patch upgrade with v prefix", stored: "v1.2.0", current: "v1.2.1", wantStored: "v1.2.1"},
		{name: "older binary rejected", stored: "2.0.0", current: "1.9.9", wantErr: ErrNewerSchema, wantStored: "2.0.0"},
		{name: "dev binary passes", stored: "2.0.0", current: "dev", wantStored: "dev"},
		{name: "dev database passes", stored: "dev", current: "0.1.0", wantStored: "0.1.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()

			if err := s.CheckVersion(ctx, tt.stored); err != nil {
				t.Fatalf("first CheckVersion: %v", err)
			}
			err := s.CheckVersion(ctx, tt.current)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CheckVersion error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("CheckVersion: %v", err)
			}

			var got string
			if err := s.DB().QueryRowContext(ctx, "SELECT app_version FROM _schema_meta WHERE id = 1").Scan(&got); err != nil {
				t.Fatalf("read version: %v", err)
			}
			if got != tt.wantStored {
				t.Errorf("stored version = %q, want %q", got, tt.wantStored)
			}
		})
	}
}
