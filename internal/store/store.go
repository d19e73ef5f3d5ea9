// Package store provides the shared SQLite database used by winstat plugins.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/HerbHall/winstat/pkg/plugin"
	"golang.org/x/mod/semver"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

var (
	// ErrNewerSchema is returned when the database was written by a newer
	// winstat release than the running binary.
	ErrNewerSchema = errors.New("database was created by a newer version of winstat")

	// ErrMigrationOrder is returned when a plugin's migrations are not in
	// strictly ascending version order.
	ErrMigrationOrder = errors.New("migrations out of order")
)

var _ plugin.Store = (*SQLiteStore)(nil)

// modernc.org/sqlite takes pragmas as statements, not DSN parameters.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA cache_size=-20000",
}

const migrationsDDL = `
CREATE TABLE IF NOT EXISTS _migrations (
	plugin_name TEXT     NOT NULL,
	version     INTEGER  NOT NULL,
	description TEXT     NOT NULL,
	applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (plugin_name, version)
)`

const schemaMetaDDL = `
CREATE TABLE IF NOT EXISTS _schema_meta (
	id          INTEGER  PRIMARY KEY CHECK (id = 1),
	app_version TEXT     NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore implements plugin.Store on a single SQLite connection.
type SQLiteStore struct {
	db   *sql.DB
	path string

	migrateMu sync.Mutex
}

// New opens (or creates) the database at path. ":memory:" gives a private
// in-memory database.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// An in-memory database lives only on the connection that created it.
	db.SetMaxOpenConns(1)

	if err := configure(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite %q: %w", path, err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func configure(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) DB() *sql.DB  { return s.db }
func (s *SQLiteStore) Path() string { return s.path }
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping backs the server readiness check.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx runs fn in a transaction, committing when fn returns nil.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Migrate applies the plugin's migrations that are not yet recorded in
// _migrations, each in its own transaction.
func (s *SQLiteStore) Migrate(ctx context.Context, pluginName string, migrations []plugin.Migration) error {
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			return fmt.Errorf("%w: %s version %d follows %d",
				ErrMigrationOrder, pluginName, migrations[i].Version, migrations[i-1].Version)
		}
	}

	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()

	if _, err := s.db.ExecContext(ctx, migrationsDDL); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}
	applied, err := s.appliedVersions(ctx, pluginName)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO _migrations (plugin_name, version, description) VALUES (?, ?, ?)",
				pluginName, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", pluginName, m.Version, m.Description, err)
		}
	}
	return nil
}

func (s *SQLiteStore) appliedVersions(ctx context.Context, pluginName string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT version FROM _migrations WHERE plugin_name = ?", pluginName)
	if err != nil {
		return nil, fmt.Errorf("list migrations for %s: %w", pluginName, err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// CheckVersion refuses a database last written by a newer release and
// otherwise records currentVersion. Versions that are not semver ("dev")
// are never compared.
func (s *SQLiteStore) CheckVersion(ctx context.Context, currentVersion string) error {
	if _, err := s.db.ExecContext(ctx, schemaMetaDDL); err != nil {
		return fmt.Errorf("ensure schema meta table: %w", err)
	}

	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT app_version FROM _schema_meta WHERE id = 1").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("query schema version: %w", err)
	case compareVersions(currentVersion, stored) < 0:
		return fmt.Errorf("%w: database=%s, binary=%s", ErrNewerSchema, stored, currentVersion)
	case compareVersions(currentVersion, stored) == 0 && currentVersion == stored:
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO _schema_meta (id, app_version, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET app_version = excluded.app_version, updated_at = excluded.updated_at`,
		currentVersion)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// compareVersions orders two release strings, reporting 0 when either is
// not valid semver.
func compareVersions(a, b string) int {
	a, b = canonicalVersion(a), canonicalVersion(b)
	if !semver.IsValid(a) || !semver.IsValid(b) {
		return 0
	}
	return semver.Compare(a, b)
}

func canonicalVersion(v string) string {
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
