// Package store provides SQLite-backed persistence for jobs, snapshots and reviews.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id             TEXT PRIMARY KEY,
	description        TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'idle',
	workspace          TEXT NOT NULL DEFAULT '',
	session_id         TEXT NOT NULL DEFAULT '',
	latest_snapshot_id TEXT NOT NULL DEFAULT '',
	last_review_json   TEXT NOT NULL DEFAULT '',
	auto_fix_count     INTEGER NOT NULL DEFAULT 0,
	reason             TEXT NOT NULL DEFAULT '',
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         INTEGER NOT NULL DEFAULT 0,
	updated_at         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_updated ON jobs(updated_at);

CREATE TABLE IF NOT EXISTS job_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL,
	ts          INTEGER NOT NULL,
	action      TEXT NOT NULL,
	result_json TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_job ON job_history(job_id, id);

CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	dir         TEXT NOT NULL,
	intent      TEXT NOT NULL DEFAULT '',
	summary     TEXT NOT NULL DEFAULT '',
	checksum    TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_job ON snapshots(job_id, created_at);

CREATE TABLE IF NOT EXISTS reviews (
	review_id   TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	snapshot_id TEXT NOT NULL,
	reviewer    TEXT NOT NULL,
	decision    TEXT NOT NULL,
	level       TEXT NOT NULL DEFAULT 'none',
	result_json TEXT NOT NULL DEFAULT '{}',
	created_at  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reviews_job ON reviews(job_id, created_at);

CREATE TABLE IF NOT EXISTS audit_records (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL,
	actor        TEXT NOT NULL DEFAULT '',
	action       TEXT NOT NULL,
	request_json TEXT NOT NULL DEFAULT '{}',
	severity     TEXT NOT NULL DEFAULT 'info',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_job ON audit_records(job_id);
`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, domain.ErrStoreInit.Message, err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, domain.WrapEngineError(domain.ErrSchemaMigration.Code, domain.ErrSchemaMigration.Message, err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
