package review

import (
	"encoding/json"
	"strings"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// Parse extracts a ReviewResult from reviewer output. The output may wrap
// the JSON object in prose or a fenced code block; the first balanced
// top-level object that decodes is used. The result is validated.
func Parse(output string) (domain.ReviewResult, error) {
	var result domain.ReviewResult
	candidates := jsonObjects(output)
	if len(candidates) == 0 {
		return result, domain.NewEngineError(domain.ErrReviewInvalid.Code, "no JSON object in reviewer output")
	}

	var lastErr error
	for _, c := range candidates {
		var r domain.ReviewResult
		if err := json.Unmarshal([]byte(c), &r); err != nil {
			lastErr = err
			continue
		}
		r.Decision = domain.Decision(strings.ToUpper(strings.TrimSpace(string(r.Decision))))
		r.AchievedLevel = domain.CapabilityLevel(strings.ToLower(strings.TrimSpace(string(r.AchievedLevel))))
		if r.AchievedLevel == "" {
			r.AchievedLevel = domain.LevelNone
		}
		for i := range r.Issues {
			r.Issues[i].Severity = domain.Severity(strings.ToLower(string(r.Issues[i].Severity)))
		}
		if err := (&SchemaValidator{}).Validate(r); err != nil {
			lastErr = err
			continue
		}
		return r, nil
	}
	return result, domain.WrapEngineError(domain.ErrReviewInvalid.Code, "reviewer output rejected", lastErr)
}

// jsonObjects returns every balanced top-level {...} span in s, in order.
func jsonObjects(s string) []string {
	var out []string
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					out = append(out, s[start:i+1])
				}
			}
		}
	}
	return out
}
