// Package reviewer scores snapshots with configurable reviewer backends and
// records every verdict.
package reviewer

import (
	"context"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// Input is everything a reviewer sees about one snapshot.
type Input struct {
	JobID       string
	SnapshotID  string
	Description string
	Status      string
	Diff        string
	Log         string
	Output      string
	// Contract is the workspace's requirements document, if any.
	Contract   string
	Credential string
}

// Reviewer produces a validated review result for a snapshot.
type Reviewer interface {
	Name() string
	Review(ctx context.Context, in Input) (domain.ReviewResult, error)
}
