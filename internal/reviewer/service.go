package reviewer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/review"
	"github.com/Rogers-F/agentloop/internal/snapshot"
	"github.com/Rogers-F/agentloop/internal/store"
)

// ContractPath is the workspace-relative requirements document handed to
// reviewers when present.
const ContractPath = ".agentloop/contract.md"

// SnapshotLoader loads verified snapshot artifacts.
type SnapshotLoader interface {
	Load(ctx context.Context, jobID, snapshotID string) (*snapshot.Artifacts, error)
}

// JobLookup reads a job record.
type JobLookup interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
}

// Service reviews a job's snapshot with one reviewer and records the verdict.
type Service struct {
	reviewer  Reviewer
	snapshots SnapshotLoader
	jobs      JobLookup
	db        *sql.DB
	repo      store.ReviewRepo
	validator review.SchemaValidator
	logger    *slog.Logger
}

// NewService creates a review service.
func NewService(rv Reviewer, snapshots SnapshotLoader, jobs JobLookup, db *sql.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{reviewer: rv, snapshots: snapshots, jobs: jobs, db: db, logger: logger}
}

// Review loads the snapshot, asks the reviewer and persists the result.
func (s *Service) Review(ctx context.Context, req domain.ReviewRequest) (domain.ReviewResult, error) {
	job, err := s.jobs.Get(ctx, req.JobID)
	if err != nil {
		return domain.ReviewResult{}, err
	}
	art, err := s.snapshots.Load(ctx, req.JobID, req.SnapshotID)
	if err != nil {
		return domain.ReviewResult{}, err
	}

	in := Input{
		JobID:       req.JobID,
		SnapshotID:  req.SnapshotID,
		Description: job.Description,
		Status:      art.Status,
		Diff:        art.Diff,
		Log:         art.Log,
		Output:      art.Output,
		Contract:    s.readContract(job.Workspace),
		Credential:  req.Credential,
	}

	started := time.Now()
	result, err := s.reviewer.Review(ctx, in)
	if err != nil {
		return domain.ReviewResult{}, err
	}
	if err := s.validator.Validate(result); err != nil {
		return domain.ReviewResult{}, fmt.Errorf("reviewer %s: %w", s.reviewer.Name(), err)
	}

	rec := domain.ReviewRecord{
		ID:         "rev-" + uuid.NewString(),
		JobID:      req.JobID,
		SnapshotID: req.SnapshotID,
		Reviewer:   s.reviewer.Name(),
		Result:     result,
		CreatedAt:  time.Now().UnixNano(),
	}
	if err := s.repo.Create(ctx, s.db, rec); err != nil {
		return domain.ReviewResult{}, domain.WrapEngineError(domain.ErrStoreWrite.Code, domain.ErrStoreWrite.Message, err)
	}
	s.logger.Info("review recorded", "job_id", req.JobID, "snapshot_id", req.SnapshotID,
		"reviewer", rec.Reviewer, "decision", result.Decision, "duration_ms", time.Since(started).Milliseconds())
	return result, nil
}

// History returns every recorded review of a job, oldest first.
func (s *Service) History(ctx context.Context, jobID string) ([]domain.ReviewRecord, error) {
	return s.repo.ListByJob(ctx, s.db, jobID)
}

func (s *Service) readContract(workspace string) string {
	if workspace == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(workspace, ContractPath))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("read contract", "workspace", workspace, "error", err)
		}
		return ""
	}
	return string(data)
}
