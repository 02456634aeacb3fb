package review

import (
	"fmt"
	"strings"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// NextLevel returns the capability level above l. Maximum stays maximum.
func NextLevel(l domain.CapabilityLevel) domain.CapabilityLevel {
	switch l {
	case domain.LevelNone, "":
		return domain.LevelMinimum
	case domain.LevelMinimum:
		return domain.LevelMiddle
	default:
		return domain.LevelMaximum
	}
}

// ComposeFixPrompt lists each outstanding issue as
// "- [severity] title: evidence" followed by the instruction to address
// them and reach the next capability level. Unmet requirements for that
// level are appended when the reviewer supplied them.
func ComposeFixPrompt(r domain.ReviewResult) string {
	var b strings.Builder
	b.WriteString("The automated review found issues to fix:\n")
	for _, issue := range r.Issues {
		evidence := strings.TrimSpace(issue.Evidence)
		if evidence == "" {
			evidence = "no evidence given"
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", issue.Severity, issue.Title, oneLine(evidence))
	}

	next := NextLevel(r.AchievedLevel)
	if unmet := unmetFor(r.Unmet, next); len(unmet) > 0 {
		fmt.Fprintf(&b, "Unmet %s requirements: %s\n", next, strings.Join(unmet, ", "))
	}
	fmt.Fprintf(&b, "Please address the issues above to reach the %s capability level.", next)
	return b.String()
}

func unmetFor(u domain.UnmetRequirements, l domain.CapabilityLevel) []string {
	switch l {
	case domain.LevelMinimum:
		return u.Minimum
	case domain.LevelMiddle:
		return u.Middle
	default:
		return u.Maximum
	}
}

// oneLine collapses multi-line evidence so each issue stays on one line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
