package review

import (
	"fmt"
	"strings"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// BlockerChecker extracts the conditions that make a review blocking.
type BlockerChecker struct{}

// Check returns whether the result carries blocking conditions and the
// list of reasons: the BLOCK decision itself, critical issues, and any
// high security or correctness risk.
func (c *BlockerChecker) Check(r domain.ReviewResult) (blocking bool, reasons []string) {
	if r.Decision == domain.DecisionBlock {
		reasons = append(reasons, "decision is BLOCK")
	}
	for _, issue := range r.Issues {
		if issue.Severity == domain.SeverityCritical {
			reasons = append(reasons, fmt.Sprintf("critical issue: %s", issue.Title))
		}
	}
	if r.Risk.Security == domain.RiskHigh {
		reasons = append(reasons, "security risk is high")
	}
	if r.Risk.Correctness == domain.RiskHigh {
		reasons = append(reasons, "correctness risk is high")
	}
	return len(reasons) > 0, reasons
}

// BlockSummary renders the human-readable failure reason for a BLOCK.
func BlockSummary(r domain.ReviewResult) string {
	var b strings.Builder
	summary := strings.TrimSpace(r.Summary)
	if summary == "" {
		summary = "no summary provided"
	}
	b.WriteString(summary)

	var critical []string
	for _, issue := range r.Issues {
		if issue.Severity == domain.SeverityCritical {
			critical = append(critical, issue.Title)
		}
	}
	if len(critical) > 0 {
		fmt.Fprintf(&b, " (critical: %s)", strings.Join(critical, "; "))
	}
	return b.String()
}
