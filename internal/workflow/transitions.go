package workflow

import "github.com/Rogers-F/agentloop/internal/domain"

// validTransitions defines the legal job status transitions.
// Each key is a source status, and the value is the set of valid targets.
var validTransitions = map[domain.JobStatus]map[domain.JobStatus]bool{
	domain.JobIdle:         {domain.JobRunning: true},
	domain.JobRunning:      {domain.JobVerifying: true, domain.JobFailed: true},
	domain.JobFixing:       {domain.JobVerifying: true, domain.JobFailed: true},
	domain.JobVerifying:    {domain.JobSnapshotting: true, domain.JobFailed: true},
	domain.JobSnapshotting: {domain.JobReviewing: true, domain.JobWaitingApproval: true, domain.JobFailed: true},
	domain.JobReviewing:    {domain.JobCompleted: true, domain.JobFixing: true, domain.JobFailed: true},
	// Manual resumption: approve, fix or retry.
	domain.JobWaitingApproval: {domain.JobCompleted: true, domain.JobFixing: true, domain.JobVerifying: true},
	// Restart, manual fix or retry.
	domain.JobFailed: {domain.JobRunning: true, domain.JobFixing: true, domain.JobVerifying: true},
}

// IsValidTransition checks if a job status transition is legal.
func IsValidTransition(from, to domain.JobStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
