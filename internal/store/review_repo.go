package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// ReviewRepo handles persistence for review results.
type ReviewRepo struct{}

// Create inserts a new review record.
func (r *ReviewRepo) Create(ctx context.Context, db *sql.DB, rec domain.ReviewRecord) error {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("marshal review result: %w", err)
	}

	const q = `INSERT INTO reviews (review_id, job_id, snapshot_id, reviewer, decision, level, result_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		rec.ID,
		rec.JobID,
		rec.SnapshotID,
		rec.Reviewer,
		string(rec.Result.Decision),
		string(rec.Result.AchievedLevel),
		string(resultJSON),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

// ListByJob returns all reviews for a job, ordered by creation time.
func (r *ReviewRepo) ListByJob(ctx context.Context, db *sql.DB, jobID string) ([]domain.ReviewRecord, error) {
	const q = `SELECT review_id, job_id, snapshot_id, reviewer, result_json, created_at
FROM reviews
WHERE job_id = ?
ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var records []domain.ReviewRecord
	for rows.Next() {
		var rec domain.ReviewRecord
		var resultJSON string
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.SnapshotID, &rec.Reviewer, &resultJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshal review result: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
