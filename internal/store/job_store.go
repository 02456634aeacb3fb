package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// JobStore is the durable job repository consulted by the orchestrator.
// It combines the jobs table and the history log behind get/upsert/list.
type JobStore struct {
	db      *sql.DB
	jobs    JobRepo
	history HistoryRepo
	now     func() time.Time
}

// NewJobStore creates a JobStore over an opened database.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns a job with its full history.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	job.History, err = s.history.ListByJob(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// History returns a job's history entries, oldest first.
func (s *JobStore) History(ctx context.Context, id string) ([]domain.HistoryEntry, error) {
	if _, err := s.jobs.GetByID(ctx, s.db, id); err != nil {
		return nil, err
	}
	return s.history.ListByJob(ctx, s.db, id)
}

// List returns every job ordered by most recent update.
func (s *JobStore) List(ctx context.Context) ([]domain.Job, error) {
	jobs, err := s.jobs.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		jobs[i].History, err = s.history.ListByJob(ctx, s.db, jobs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// Upsert creates the job if it does not exist, applies the provided fields,
// appends history and bumps the version, all in one transaction.
// It returns the full stored record.
func (s *JobStore) Upsert(ctx context.Context, id string, patch domain.JobPatch) (*domain.Job, error) {
	if id == "" {
		return nil, domain.NewEngineError(domain.ErrStoreWrite.Code, "job id is required")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	job, err := s.jobs.GetByID(ctx, tx, id)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		job = &domain.Job{ID: id, Status: domain.JobIdle, Version: 1, CreatedAt: now, UpdatedAt: now}
		applyPatch(job, patch)
		if err := s.jobs.CreateTx(ctx, tx, *job); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		applyPatch(job, patch)
		job.UpdatedAt = now
		if err := s.jobs.UpdateTx(ctx, tx, *job); err != nil {
			return nil, err
		}
	}

	for _, entry := range patch.AppendHistory {
		if entry.Timestamp.IsZero() {
			entry.Timestamp = now
		}
		if err := s.history.AppendTx(ctx, tx, id, entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return s.Get(ctx, id)
}

func applyPatch(job *domain.Job, p domain.JobPatch) {
	if p.Description != nil {
		job.Description = *p.Description
	}
	if p.Status != nil {
		job.Status = *p.Status
	}
	if p.Workspace != nil {
		job.Workspace = *p.Workspace
	}
	if p.SessionID != nil {
		job.SessionID = *p.SessionID
	}
	if p.LatestSnapshotID != nil {
		job.LatestSnapshotID = *p.LatestSnapshotID
	}
	if p.ClearReview {
		job.LastReview = nil
	}
	if p.LastReview != nil {
		rr := *p.LastReview
		job.LastReview = &rr
	}
	if p.AutoFixCount != nil {
		job.AutoFixCount = *p.AutoFixCount
	}
	if p.Reason != nil {
		job.Reason = *p.Reason
	}
}
