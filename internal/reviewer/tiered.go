package reviewer

import (
	"context"
	"log/slog"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// Tiered asks the cheap reviewer first and escalates to the strong one
// unless the cheap verdict is already APPROVE or EXCELLENT. A failing cheap
// reviewer also escalates.
type Tiered struct {
	ID     string
	Cheap  Reviewer
	Strong Reviewer
	Logger *slog.Logger
}

// Name returns the reviewer's configured name.
func (t *Tiered) Name() string { return t.ID }

// Review runs one or both tiers.
func (t *Tiered) Review(ctx context.Context, in Input) (domain.ReviewResult, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	result, err := t.Cheap.Review(ctx, in)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return domain.ReviewResult{}, ctx.Err()
		}
		logger.Warn("cheap reviewer failed, escalating", "reviewer", t.Cheap.Name(), "error", err)
	case result.Decision == domain.DecisionApprove || result.Decision == domain.DecisionExcellent:
		return result, nil
	default:
		logger.Info("escalating review", "cheap", t.Cheap.Name(), "strong", t.Strong.Name(), "cheap_decision", result.Decision)
	}
	return t.Strong.Review(ctx, in)
}
