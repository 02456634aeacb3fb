// Package review validates reviewer output and turns it into fix prompts
// and failure summaries.
package review

import (
	"fmt"
	"strings"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// SchemaValidator validates ReviewResult fields against the review schema.
type SchemaValidator struct{}

var validDecisions = map[domain.Decision]bool{
	domain.DecisionBlock:     true,
	domain.DecisionImprove:   true,
	domain.DecisionApprove:   true,
	domain.DecisionExcellent: true,
}

var validLevels = map[domain.CapabilityLevel]bool{
	domain.LevelNone:    true,
	domain.LevelMinimum: true,
	domain.LevelMiddle:  true,
	domain.LevelMaximum: true,
}

var validSeverities = map[domain.Severity]bool{
	domain.SeverityCritical: true,
	domain.SeverityMajor:    true,
	domain.SeverityMinor:    true,
}

var validRisks = map[domain.RiskLevel]bool{
	domain.RiskLow:    true,
	domain.RiskMedium: true,
	domain.RiskHigh:   true,
}

// Validate checks all fields of the given result and returns an error
// listing all violations if any are found.
func (v *SchemaValidator) Validate(r domain.ReviewResult) error {
	var violations []string

	if !validDecisions[r.Decision] {
		violations = append(violations, fmt.Sprintf("decision %q is not valid; must be BLOCK, IMPROVE, APPROVE, or EXCELLENT", r.Decision))
	}
	if !validLevels[r.AchievedLevel] {
		violations = append(violations, fmt.Sprintf("achieved_level %q is not valid; must be none, minimum, middle, or maximum", r.AchievedLevel))
	}

	for i, issue := range r.Issues {
		if !validSeverities[issue.Severity] {
			violations = append(violations, fmt.Sprintf("issues[%d] severity %q is not valid; must be critical, major, or minor", i, issue.Severity))
		}
		if strings.TrimSpace(issue.Title) == "" {
			violations = append(violations, fmt.Sprintf("issues[%d] title must be non-empty", i))
		}
	}

	axes := []struct {
		name  string
		value domain.RiskLevel
	}{
		{"security", r.Risk.Security},
		{"correctness", r.Risk.Correctness},
		{"maintainability", r.Risk.Maintainability},
	}
	for _, a := range axes {
		// An omitted axis is unrated.
		if a.value != "" && !validRisks[a.value] {
			violations = append(violations, fmt.Sprintf("risk.%s %q is not valid; must be low, medium, or high", a.name, a.value))
		}
	}

	if len(violations) > 0 {
		msg := strings.Join(violations, "; ")
		return domain.NewEngineError(domain.ErrReviewInvalid.Code, msg)
	}
	return nil
}
