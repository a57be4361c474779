package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/pulsefit/offline-sync/internal/port"
)

// Store implements the persistence ports over a single SQLite database.
// Three tables map the three persisted namespaces: records (payloads +
// LRU bookkeeping), operations (sync queue and trailing logs), and meta
// (checkpoints, counters, preference overrides).
type Store struct {
	db *sql.DB
}

// Ensure Store implements the persistence ports
var (
	_ port.RecordRepository    = (*Store)(nil)
	_ port.OperationRepository = (*Store)(nil)
	_ port.MetaStore           = (*Store)(nil)
)

// Open opens a connection to the SQLite database
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set pragmas for better performance
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping() error {
	return s.db.Ping()
}

// migrate creates or updates the database schema
func (s *Store) migrate() error {
	migrations := []string{
		// offline-store namespace
		`CREATE TABLE IF NOT EXISTS records (
			key TEXT PRIMARY KEY,
			entity TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL,
			compressed BOOLEAN NOT NULL DEFAULT FALSE,
			encrypted BOOLEAN NOT NULL DEFAULT FALSE,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 2,
			hit_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			last_accessed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_eviction
			ON records (priority, last_accessed_at)`,

		// sync-queue namespace
		`CREATE TABLE IF NOT EXISTS operations (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			entity TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			payload BLOB,
			user_id TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 2,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			last_error TEXT NOT NULL DEFAULT '',
			next_attempt_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_status
			ON operations (status, next_attempt_at)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_record
			ON operations (entity, entity_id, status)`,

		// sync-schedule namespace
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// GetMeta retrieves a meta value by key
func (s *Store) GetMeta(key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value.String, true, nil
}

// SetMeta stores a meta value by key
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// DeleteMeta removes a meta value by key
func (s *Store) DeleteMeta(key string) error {
	_, err := s.db.Exec("DELETE FROM meta WHERE key = ?", key)
	return err
}
