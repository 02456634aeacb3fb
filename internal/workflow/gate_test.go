package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Rogers-F/agentloop/internal/domain"
)

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		name     string
		decision domain.Decision
		fixCount int
		max      int
		want     GateOutcome
	}{
		{"approve", domain.DecisionApprove, 0, 2, GateOutcome{Next: domain.JobCompleted}},
		{"approve without budget", domain.DecisionApprove, 2, 2, GateOutcome{Next: domain.JobCompleted}},
		{"excellent", domain.DecisionExcellent, 1, 2, GateOutcome{Next: domain.JobCompleted}},
		{"block with budget", domain.DecisionBlock, 0, 2, GateOutcome{Next: domain.JobFailed, Reason: ReasonBlocked}},
		{"block without budget", domain.DecisionBlock, 2, 2, GateOutcome{Next: domain.JobFailed, Reason: ReasonBlocked}},
		{"improve k=0", domain.DecisionImprove, 0, 2, GateOutcome{Next: domain.JobFixing, IncrementFix: true}},
		{"improve k=1", domain.DecisionImprove, 1, 2, GateOutcome{Next: domain.JobFixing, IncrementFix: true}},
		{"improve k=2", domain.DecisionImprove, 2, 2, GateOutcome{Next: domain.JobFailed, Reason: ReasonMaxAutoFix}},
		{"improve over budget", domain.DecisionImprove, 5, 2, GateOutcome{Next: domain.JobFailed, Reason: ReasonMaxAutoFix}},
		{"improve with zero budget", domain.DecisionImprove, 0, 0, GateOutcome{Next: domain.JobFailed, Reason: ReasonMaxAutoFix}},
		{"unknown", domain.Decision("MAYBE"), 0, 2, GateOutcome{Next: domain.JobFailed, Reason: ReasonUnknownVerdict}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.decision, domain.LevelMiddle, tt.fixCount, tt.max)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide_Total(t *testing.T) {
	decisions := []domain.Decision{
		domain.DecisionBlock, domain.DecisionImprove, domain.DecisionApprove, domain.DecisionExcellent,
	}
	levels := []domain.CapabilityLevel{domain.LevelNone, domain.LevelMinimum, domain.LevelMiddle, domain.LevelMaximum}

	for _, d := range decisions {
		for _, l := range levels {
			for k := 0; k <= 3; k++ {
				out := Decide(d, l, k, 2)
				assert.True(t, out.Next.Valid(), "%s/%s/k=%d: invalid next %q", d, l, k, out.Next)
				assert.True(t, IsValidTransition(domain.JobReviewing, out.Next),
					"%s/%s/k=%d: reviewing -> %s is not a legal transition", d, l, k, out.Next)
				if out.Next == domain.JobFixing {
					assert.Less(t, k, 2, "fixing chosen with no budget left")
				}
				if out.Next == domain.JobFailed {
					assert.NotEmpty(t, out.Reason)
				}
			}
		}
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to domain.JobStatus
		want     bool
	}{
		{domain.JobIdle, domain.JobRunning, true},
		{domain.JobIdle, domain.JobVerifying, false},
		{domain.JobRunning, domain.JobVerifying, true},
		{domain.JobFixing, domain.JobVerifying, true},
		{domain.JobVerifying, domain.JobSnapshotting, true},
		{domain.JobVerifying, domain.JobReviewing, false},
		{domain.JobSnapshotting, domain.JobWaitingApproval, true},
		{domain.JobReviewing, domain.JobWaitingApproval, false},
		{domain.JobWaitingApproval, domain.JobCompleted, true},
		{domain.JobWaitingApproval, domain.JobRunning, false},
		{domain.JobFailed, domain.JobRunning, true},
		{domain.JobCompleted, domain.JobRunning, false},
		{domain.JobCompleted, domain.JobFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
