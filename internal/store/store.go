// Package store provides persistent storage for the tracker's replicated index.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed home for trackers, peers, files, chunks, and
// host relations. All access is serialized through mu; SQLite itself is
// configured for a single writer.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	DBPath string
}

// New opens (creating if necessary) the tracker database at cfg.DBPath.
func New(cfg *Config) (*Store, error) {
	dbPath := expandPath(cfg.DBPath)

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection, for callers that need to
// inspect raw state.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the on-disk path of the database file.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trackers (
		ip TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS peers (
		uuid TEXT PRIMARY KEY,
		ip TEXT NOT NULL,
		keep_alive_timestamp INTEGER NOT NULL DEFAULT 0,
		expected_seq_number INTEGER NOT NULL DEFAULT 0,
		ka_expected_seq_number INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		full_hash TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS chunks (
		file_id INTEGER NOT NULL,
		chunk_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		hash TEXT NOT NULL,
		PRIMARY KEY (file_id, chunk_id),
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS hosts (
		file_id INTEGER NOT NULL,
		peer_uuid TEXT NOT NULL,
		PRIMARY KEY (file_id, peer_uuid),
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
		FOREIGN KEY (peer_uuid) REFERENCES peers(uuid) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_hosts_peer ON hosts(peer_uuid);
	CREATE INDEX IF NOT EXISTS idx_peers_ip ON peers(ip);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations applies additive schema changes for existing databases.
// Errors are ignored: a column either already exists or this is a fresh DB
// where initSchema already created it.
func (s *Store) runMigrations() error {
	migrations := []string{
		"ALTER TABLE peers ADD COLUMN keep_alive_timestamp INTEGER NOT NULL DEFAULT 0",
	}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
