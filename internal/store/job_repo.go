package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// JobRepo handles persistence for Job rows. History lives in HistoryRepo.
type JobRepo struct{}

const jobColumns = `job_id, description, status, workspace, session_id, latest_snapshot_id, last_review_json, auto_fix_count, reason, version, created_at, updated_at`

// CreateTx inserts a new job within an existing transaction.
func (r *JobRepo) CreateTx(ctx context.Context, tx *sql.Tx, job domain.Job) error {
	reviewJSON, err := marshalReview(job.LastReview)
	if err != nil {
		return err
	}
	const q = `INSERT INTO jobs (` + jobColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		job.ID,
		job.Description,
		string(job.Status),
		job.Workspace,
		job.SessionID,
		job.LatestSnapshotID,
		reviewJSON,
		job.AutoFixCount,
		job.Reason,
		job.Version,
		job.CreatedAt.UnixNano(),
		job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// UpdateTx writes every mutable column using optimistic locking.
// The update only succeeds if the stored version matches job.Version;
// the stored version is then incremented.
func (r *JobRepo) UpdateTx(ctx context.Context, tx *sql.Tx, job domain.Job) error {
	reviewJSON, err := marshalReview(job.LastReview)
	if err != nil {
		return err
	}
	const q = `UPDATE jobs SET
		description = ?,
		status = ?,
		workspace = ?,
		session_id = ?,
		latest_snapshot_id = ?,
		last_review_json = ?,
		auto_fix_count = ?,
		reason = ?,
		version = version + 1,
		updated_at = ?
	WHERE job_id = ? AND version = ?`

	res, err := tx.ExecContext(ctx, q,
		job.Description,
		string(job.Status),
		job.Workspace,
		job.SessionID,
		job.LatestSnapshotID,
		reviewJSON,
		job.AutoFixCount,
		job.Reason,
		job.UpdatedAt.UnixNano(),
		job.ID,
		job.Version,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves a job row by its ID. History is not loaded.
func (r *JobRepo) GetByID(ctx context.Context, q queryer, jobID string) (*domain.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns all job rows, most recently updated first.
func (r *JobRepo) List(ctx context.Context, q queryer) ([]domain.Job, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY updated_at DESC, created_at DESC`)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list jobs", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*domain.Job, error) {
	var j domain.Job
	var status, reviewJSON string
	var created, updated int64
	err := s.Scan(&j.ID, &j.Description, &status, &j.Workspace, &j.SessionID,
		&j.LatestSnapshotID, &reviewJSON, &j.AutoFixCount, &j.Reason, &j.Version,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	j.Status = domain.JobStatus(status)
	j.CreatedAt = time.Unix(0, created).UTC()
	j.UpdatedAt = time.Unix(0, updated).UTC()
	if reviewJSON != "" {
		var rr domain.ReviewResult
		if err := json.Unmarshal([]byte(reviewJSON), &rr); err != nil {
			return nil, fmt.Errorf("unmarshal last review: %w", err)
		}
		j.LastReview = &rr
	}
	return &j, nil
}

func marshalReview(rr *domain.ReviewResult) (string, error) {
	if rr == nil {
		return "", nil
	}
	b, err := json.Marshal(rr)
	if err != nil {
		return "", fmt.Errorf("marshal last review: %w", err)
	}
	return string(b), nil
}
