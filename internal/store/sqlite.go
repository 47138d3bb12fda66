package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/chaz8081/gomipow/internal/ble"
	"github.com/chaz8081/gomipow/internal/light"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	dirPermissions    = 0750
	filePermissions   = 0600
	connectionTimeout = 5 * time.Second
)

// Config configures the SQLite database.
type Config struct {
	Path        string        // database file; its directory is created if missing
	BusyTimeout time.Duration // how long to wait for a lock
}

// DB persists device records and light states in SQLite.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database, verifies the connection and
// applies pending migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("store: creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := &DB{DB: sqlDB, path: cfg.Path}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // best effort on the error path
		return nil, fmt.Errorf("store: verifying database connection: %w", err)
	}
	_ = os.Chmod(cfg.Path, filePermissions)

	if err := db.migrate(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // best effort on the error path
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the database.
func (db *DB) Close() error {
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}
	return nil
}

// migrate applies every embedded migration not yet recorded in
// schema_migrations, in file name order, each in its own transaction.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`); err != nil {
		return fmt.Errorf("store: creating migrations table: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("store: listing migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(filepath.Base(name), ".sql")

		var n int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&n); err != nil {
			return fmt.Errorf("store: checking migration %s: %w", version, err)
		}
		if n > 0 {
			continue
		}

		body, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("store: reading migration %s: %w", version, err)
		}
		if err := db.applyMigration(ctx, version, string(body)); err != nil {
			return err
		}
		slog.Info("[STORE] migration applied", "version", version)
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, version, body string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: starting migration %s: %w", version, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("store: applying migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("store: recording migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing migration %s: %w", version, err)
	}
	return nil
}

// SaveDevice inserts or replaces a device record.
func (db *DB) SaveDevice(ctx context.Context, rec ble.DeviceRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO devices (id, family, name) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET family = excluded.family, name = excluded.name`,
		rec.ID, rec.Family, rec.Name)
	if err != nil {
		return fmt.Errorf("saving device: %w", err)
	}
	return nil
}

// DeleteDevice removes a device record and its state.
func (db *DB) DeleteDevice(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM light_state WHERE device_id = ?", id); err != nil {
		return fmt.Errorf("deleting state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return tx.Commit()
}

// LoadDevices returns every device record in pairing order.
func (db *DB) LoadDevices(ctx context.Context) ([]ble.DeviceRecord, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, family, name FROM devices ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var recs []ble.DeviceRecord
	for rows.Next() {
		var rec ble.DeviceRecord
		if err := rows.Scan(&rec.ID, &rec.Family, &rec.Name); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return recs, nil
}

// SaveState stores the state as JSON.
func (db *DB) SaveState(ctx context.Context, id string, s light.State) error {
	stateJSON, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO light_state (device_id, state) VALUES (?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
		   state = excluded.state,
		   updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		id, string(stateJSON))
	if err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	return nil
}

// LoadState returns the stored state, if any. Fields missing from the stored
// JSON keep their default values.
func (db *DB) LoadState(ctx context.Context, id string) (light.State, bool, error) {
	var stateJSON string
	err := db.QueryRowContext(ctx,
		"SELECT state FROM light_state WHERE device_id = ?", id).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return light.State{}, false, nil
	}
	if err != nil {
		return light.State{}, false, fmt.Errorf("querying state: %w", err)
	}

	s := light.DefaultState()
	if err := json.Unmarshal([]byte(stateJSON), &s); err != nil {
		return light.State{}, false, fmt.Errorf("unmarshalling state: %w", err)
	}
	return s, true, nil
}

// DeleteState removes the stored state.
func (db *DB) DeleteState(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM light_state WHERE device_id = ?", id); err != nil {
		return fmt.Errorf("deleting state: %w", err)
	}
	return nil
}

var (
	_ StatePersister  = (*DB)(nil)
	_ DevicePersister = (*DB)(nil)
)
