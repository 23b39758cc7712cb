// Package aggregator owns the persistent signal cache. It normalizes
// incoming provider batches into sqlite, deduplicates by (source,
// external_id), answers filtered queries, tracks per-provider poll
// state, and runs the best-effort triage pass.
package aggregator

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Aggregator wraps the sqlite-backed signal cache. All mutation call
// sites run through the poller or the HTTP handlers, which may overlap,
// so the mutex serializes writers.
type Aggregator struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
	log    *zap.Logger
}

// New initializes the signal cache at the given path, creating parent
// directories and the schema as needed.
func New(path string, log *zap.Logger) (*Aggregator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open signal cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("set busy_timeout failed", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("set journal_mode=WAL failed", zap.Error(err))
	}

	a := &Aggregator{db: db, dbPath: path, log: log}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize signal cache schema: %w", err)
	}
	log.Debug("signal cache ready", zap.String("path", path))
	return a, nil
}

// Close releases the underlying database handle.
func (a *Aggregator) Close() error {
	return a.db.Close()
}

func (a *Aggregator) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS unified_signals (
	id                TEXT PRIMARY KEY,
	source            TEXT NOT NULL,
	external_id       TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	content           TEXT NOT NULL DEFAULT '',
	url               TEXT NOT NULL DEFAULT '',
	file_path         TEXT NOT NULL DEFAULT '',
	line_number       INTEGER NOT NULL DEFAULT 0,
	priority          INTEGER NOT NULL DEFAULT 3,
	status            TEXT NOT NULL DEFAULT 'new',
	reason            TEXT NOT NULL DEFAULT '',
	provider_metadata TEXT NOT NULL DEFAULT '{}',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	fetched_at        TEXT NOT NULL,
	operation_id      TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_source_external
	ON unified_signals(source, external_id) WHERE external_id != '';
CREATE INDEX IF NOT EXISTS idx_signals_status ON unified_signals(status);
CREATE INDEX IF NOT EXISTS idx_signals_priority ON unified_signals(priority);

CREATE TABLE IF NOT EXISTS poll_state (
	source       TEXT PRIMARY KEY,
	last_poll_at TEXT NOT NULL DEFAULT '',
	last_cursor  TEXT NOT NULL DEFAULT '',
	error_count  INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT ''
);
`
	_, err := a.db.Exec(schema)
	return err
}
