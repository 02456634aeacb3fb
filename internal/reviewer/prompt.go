package reviewer

import (
	"fmt"
	"strings"
)

const maxDiffBytes = 60000

const outputFormat = `Respond with a single JSON object and nothing else:
{
  "decision": "BLOCK" | "IMPROVE" | "APPROVE" | "EXCELLENT",
  "achieved_level": "none" | "minimum" | "middle" | "maximum",
  "summary": "one paragraph",
  "unmet": {"minimum": [], "middle": [], "maximum": []},
  "issues": [{"severity": "critical" | "major" | "minor", "title": "", "evidence": "", "suggested_fix": ""}],
  "risk": {"security": "low" | "medium" | "high", "correctness": "low" | "medium" | "high", "maintainability": "low" | "medium" | "high"}
}
Use BLOCK for changes that must not land, IMPROVE when fixes are needed,
APPROVE when the task is done and EXCELLENT when it is done exceptionally well.`

// BuildPrompt renders the review request sent to a command reviewer.
func BuildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("You are reviewing changes an autonomous coding agent made to a repository.\n\n")
	fmt.Fprintf(&b, "## Task\n%s\n\n", orNone(in.Description))
	if strings.TrimSpace(in.Contract) != "" {
		fmt.Fprintf(&b, "## Requirements contract\n%s\n\n", strings.TrimSpace(in.Contract))
	}
	fmt.Fprintf(&b, "## Working tree status\n%s\n\n", orNone(in.Status))

	diff := in.Diff
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes] + "\n[diff truncated]"
	}
	fmt.Fprintf(&b, "## Diff\n```diff\n%s\n```\n\n", orNone(diff))
	if strings.TrimSpace(in.Log) != "" {
		fmt.Fprintf(&b, "## Recent commits\n%s\n\n", in.Log)
	}
	if strings.TrimSpace(in.Output) != "" {
		fmt.Fprintf(&b, "## Recent agent output\n%s\n\n", in.Output)
	}
	b.WriteString(outputFormat)
	b.WriteString("\n")
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
