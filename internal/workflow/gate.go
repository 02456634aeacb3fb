package workflow

import "github.com/Rogers-F/agentloop/internal/domain"

// Reason strings attached to gate outcomes.
const (
	ReasonMaxAutoFix     = "Max auto-fix limit reached"
	ReasonBlocked        = "Blocked by review"
	ReasonUnknownVerdict = "Unknown review decision"
)

// GateOutcome is the next state chosen for a review result.
type GateOutcome struct {
	Next         domain.JobStatus
	IncrementFix bool
	Reason       string
}

// Decide maps a review decision and the current fix budget onto the next
// job status. It performs no I/O; the orchestrator applies the outcome.
// The achieved level does not change the next state; IMPROVE prompts
// target the level above it.
func Decide(decision domain.Decision, _ domain.CapabilityLevel, fixCount, maxFixes int) GateOutcome {
	switch decision {
	case domain.DecisionApprove, domain.DecisionExcellent:
		return GateOutcome{Next: domain.JobCompleted}
	case domain.DecisionImprove:
		if fixCount < maxFixes {
			return GateOutcome{Next: domain.JobFixing, IncrementFix: true}
		}
		return GateOutcome{Next: domain.JobFailed, Reason: ReasonMaxAutoFix}
	case domain.DecisionBlock:
		return GateOutcome{Next: domain.JobFailed, Reason: ReasonBlocked}
	default:
		return GateOutcome{Next: domain.JobFailed, Reason: ReasonUnknownVerdict}
	}
}
