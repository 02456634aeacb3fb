package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// HistoryRepo handles the append-only job history log.
type HistoryRepo struct{}

// AppendTx inserts a history entry within an existing transaction.
func (r *HistoryRepo) AppendTx(ctx context.Context, tx *sql.Tx, jobID string, entry domain.HistoryEntry) error {
	const q = `INSERT INTO job_history (job_id, ts, action, result_json) VALUES (?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		jobID,
		entry.Timestamp.UnixNano(),
		entry.Action,
		string(entry.Result),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListByJob returns every history entry for a job in insertion order.
func (r *HistoryRepo) ListByJob(ctx context.Context, q queryer, jobID string) ([]domain.HistoryEntry, error) {
	const stmt = `SELECT ts, action, result_json FROM job_history WHERE job_id = ? ORDER BY id ASC`

	rows, err := q.QueryContext(ctx, stmt, jobID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := []domain.HistoryEntry{}
	for rows.Next() {
		var e domain.HistoryEntry
		var ts int64
		var result string
		if err := rows.Scan(&ts, &e.Action, &result); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		if result != "" {
			e.Result = []byte(result)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
