package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// AuditRepo persists operator actions and session lifecycle events.
type AuditRepo struct{}

const auditColumns = `id, job_id, category, actor, action, request_json, severity, created_at`

// Record inserts an audit record. Empty actor and payload get defaults.
func (r *AuditRepo) Record(ctx context.Context, db *sql.DB, rec domain.AuditRecord) error {
	if rec.Actor == "" {
		rec.Actor = "system"
	}
	if rec.RequestJSON == "" {
		rec.RequestJSON = "{}"
	}
	if rec.Severity == "" {
		rec.Severity = "info"
	}
	_, err := db.ExecContext(ctx, `INSERT INTO audit_records (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, rec.Category, rec.Actor, rec.Action, rec.RequestJSON, rec.Severity, rec.CreatedAt)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "record audit", err)
	}
	return nil
}

// ListByJob returns a job's audit trail, oldest first. Session events not
// tied to a job are stored under the empty job id.
func (r *AuditRepo) ListByJob(ctx context.Context, db *sql.DB, jobID string) ([]domain.AuditRecord, error) {
	return queryAudit(ctx, db, `SELECT `+auditColumns+` FROM audit_records
WHERE job_id = ? ORDER BY created_at ASC, rowid ASC`, jobID)
}

// ListRecent returns up to limit records, newest first. A non-empty
// category restricts the result.
func (r *AuditRepo) ListRecent(ctx context.Context, db *sql.DB, category string, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return queryAudit(ctx, db, `SELECT `+auditColumns+` FROM audit_records
WHERE (? = '' OR category = ?) ORDER BY created_at DESC, rowid DESC LIMIT ?`, category, category, limit)
}

func queryAudit(ctx context.Context, db *sql.DB, q string, args ...any) ([]domain.AuditRecord, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list audit records", err)
	}
	defer rows.Close()

	var records []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		if err := rows.Scan(&a.ID, &a.JobID, &a.Category, &a.Actor, &a.Action,
			&a.RequestJSON, &a.Severity, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
