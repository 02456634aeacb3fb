// Package snapshot captures a workspace's changes and the agent's recent
// output as addressable artifacts for review.
package snapshot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/redact"
	"github.com/Rogers-F/agentloop/internal/store"
)

// Artifact file names inside a snapshot directory.
const (
	StatusFile = "status.txt"
	DiffFile   = "diff.patch"
	LogFile    = "log.txt"
	OutputFile = "output.txt"
	MetaFile   = "meta.json"
)

// OutputSource provides a session's recent output lines.
type OutputSource interface {
	RecentOutput(sessionID string) []string
}

// Artifacts is a loaded snapshot.
type Artifacts struct {
	Snapshot domain.Snapshot
	Status   string
	Diff     string
	Log      string
	Output   string
}

type meta struct {
	SnapshotID string `json:"snapshot_id"`
	JobID      string `json:"job_id"`
	SessionID  string `json:"session_id,omitempty"`
	Workspace  string `json:"workspace"`
	Intent     string `json:"intent"`
	Summary    string `json:"summary"`
	Checksum   string `json:"checksum"`
	CreatedAt  string `json:"created_at"`
}

// Writer stores snapshot artifacts under root and indexes them in the database.
type Writer struct {
	db       *sql.DB
	repo     store.SnapshotRepo
	root     string
	output   OutputSource
	redactor *redact.Redactor
	logger   *slog.Logger
	now      func() time.Time
}

// NewWriter creates a snapshot writer. output may be nil.
func NewWriter(db *sql.DB, root string, output OutputSource, redactor *redact.Redactor, logger *slog.Logger) *Writer {
	if redactor == nil {
		redactor = redact.NewDefault()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		db:       db,
		root:     root,
		output:   output,
		redactor: redactor,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateSnapshot captures the workspace's git status, diff and log plus the
// bound session's recent output.
func (w *Writer) CreateSnapshot(ctx context.Context, req domain.SnapshotRequest) (domain.SnapshotResult, error) {
	if req.JobID == "" || req.Workspace == "" {
		return domain.SnapshotResult{}, domain.NewEngineError(domain.ErrSnapshotFailed.Code, "job id and workspace are required")
	}

	tree, err := captureTree(ctx, req.Workspace)
	if err != nil {
		return domain.SnapshotResult{}, domain.WrapEngineError(domain.ErrSnapshotFailed.Code, domain.ErrSnapshotFailed.Message, err)
	}

	var output string
	if w.output != nil && req.SessionID != "" {
		output = strings.Join(w.redactor.Lines(w.output.RecentOutput(req.SessionID)), "\n")
	}

	id := "snap-" + uuid.NewString()
	dir := filepath.Join(w.root, req.JobID, id)
	created := w.now().UTC()
	snap := domain.Snapshot{
		ID:        id,
		JobID:     req.JobID,
		Dir:       dir,
		Intent:    req.Intent,
		Summary:   summarize(tree.Status),
		Checksum:  checksum(tree.Diff),
		CreatedAt: created.UnixNano(),
	}

	m := meta{
		SnapshotID: id,
		JobID:      req.JobID,
		SessionID:  req.SessionID,
		Workspace:  req.Workspace,
		Intent:     req.Intent,
		Summary:    snap.Summary,
		Checksum:   snap.Checksum,
		CreatedAt:  created.Format(time.RFC3339Nano),
	}
	metaJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return domain.SnapshotResult{}, fmt.Errorf("marshal snapshot meta: %w", err)
	}

	files := map[string]string{
		StatusFile: tree.Status,
		DiffFile:   tree.Diff,
		LogFile:    tree.Log,
		OutputFile: output,
		MetaFile:   string(metaJSON),
	}
	if err := writeFiles(dir, files); err != nil {
		_ = os.RemoveAll(dir)
		return domain.SnapshotResult{}, domain.WrapEngineError(domain.ErrSnapshotFailed.Code, domain.ErrSnapshotFailed.Message, err)
	}
	if err := w.repo.Save(ctx, w.db, snap); err != nil {
		_ = os.RemoveAll(dir)
		return domain.SnapshotResult{}, domain.WrapEngineError(domain.ErrStoreWrite.Code, domain.ErrStoreWrite.Message, err)
	}

	w.logger.Info("snapshot created", "job_id", req.JobID, "snapshot_id", id, "summary", snap.Summary)
	return domain.SnapshotResult{SnapshotID: id, Summary: snap.Summary}, nil
}

// Load reads a snapshot's artifacts and verifies the diff checksum.
func (w *Writer) Load(ctx context.Context, jobID, snapshotID string) (*Artifacts, error) {
	snap, err := w.repo.Get(ctx, w.db, jobID, snapshotID)
	if err != nil {
		return nil, err
	}

	a := &Artifacts{Snapshot: *snap}
	for name, dst := range map[string]*string{
		StatusFile: &a.Status,
		DiffFile:   &a.Diff,
		LogFile:    &a.Log,
		OutputFile: &a.Output,
	} {
		data, err := os.ReadFile(filepath.Join(snap.Dir, name))
		if err != nil {
			return nil, domain.WrapEngineError(domain.ErrSnapshotCorrupt.Code, domain.ErrSnapshotCorrupt.Message, err)
		}
		*dst = string(data)
	}

	if got := checksum(a.Diff); got != snap.Checksum {
		return nil, domain.NewEngineError(domain.ErrSnapshotCorrupt.Code,
			fmt.Sprintf("%s: diff checksum %s, want %s", domain.ErrSnapshotCorrupt.Message, got, snap.Checksum))
	}
	return a, nil
}

// Latest returns the newest snapshot record for a job, or nil.
func (w *Writer) Latest(ctx context.Context, jobID string) (*domain.Snapshot, error) {
	return w.repo.GetLatest(ctx, w.db, jobID)
}

func checksum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeFiles(dir string, files map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
