package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// SnapshotRepo handles the snapshot index. Artifacts live on disk.
type SnapshotRepo struct{}

// Save inserts a snapshot index row.
func (r *SnapshotRepo) Save(ctx context.Context, db *sql.DB, snap domain.Snapshot) error {
	const q = `INSERT INTO snapshots (snapshot_id, job_id, dir, intent, summary, checksum, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		snap.ID,
		snap.JobID,
		snap.Dir,
		snap.Intent,
		snap.Summary,
		snap.Checksum,
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot addressed by (jobID, snapshotID).
func (r *SnapshotRepo) Get(ctx context.Context, db *sql.DB, jobID, snapshotID string) (*domain.Snapshot, error) {
	const q = `SELECT snapshot_id, job_id, dir, intent, summary, checksum, created_at
FROM snapshots
WHERE job_id = ? AND snapshot_id = ?`

	var s domain.Snapshot
	err := db.QueryRowContext(ctx, q, jobID, snapshotID).
		Scan(&s.ID, &s.JobID, &s.Dir, &s.Intent, &s.Summary, &s.Checksum, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &s, nil
}

// GetLatest returns the most recent snapshot for a job.
// Returns nil if no snapshot exists.
func (r *SnapshotRepo) GetLatest(ctx context.Context, db *sql.DB, jobID string) (*domain.Snapshot, error) {
	const q = `SELECT snapshot_id, job_id, dir, intent, summary, checksum, created_at
FROM snapshots
WHERE job_id = ?
ORDER BY created_at DESC
LIMIT 1`

	var s domain.Snapshot
	err := db.QueryRowContext(ctx, q, jobID).
		Scan(&s.ID, &s.JobID, &s.Dir, &s.Intent, &s.Summary, &s.Checksum, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	return &s, nil
}
