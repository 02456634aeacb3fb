// Package redact masks secrets in text captured from agent sessions before
// it is written to snapshots or shown to a reviewer.
package redact

import (
	"regexp"
	"strings"
)

// Placeholder replaces every masked value.
const Placeholder = "[REDACTED]"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor applies an ordered list of masking rules.
type Redactor struct {
	rules    []rule
	literals []string
}

// NewDefault returns a Redactor with rules for bearer tokens, secret-looking
// flags and assignments, and well-known token formats.
func NewDefault() *Redactor {
	return &Redactor{
		rules: []rule{
			{
				re:   regexp.MustCompile(`(?i)(authorization\s*:\s*bearer\s+)([^\s"']+)`),
				repl: `${1}` + Placeholder,
			},
			{
				re:   regexp.MustCompile(`(?i)(--(?:token|password|passwd|api[_-]?key|apikey|secret|private[_-]?key)=)([^\s]+)`),
				repl: `${1}` + Placeholder,
			},
			{
				re:   regexp.MustCompile(`(?i)(--(?:token|password|passwd|api[_-]?key|apikey|secret|private[_-]?key)\s+)([^\s]+)`),
				repl: `${1}` + Placeholder,
			},
			{
				re:   regexp.MustCompile(`(?i)(\b[A-Z0-9_]*(?:TOKEN|SECRET|PASSWORD|PASSWD|API_?KEY|PRIVATE_?KEY)[A-Z0-9_]*\s*=\s*)([^\s]+)`),
				repl: `${1}` + Placeholder,
			},
			{
				re:   regexp.MustCompile(`(?i)(\b(?:token|secret|password|passwd|api[_-]?key|apikey|private[_-]?key)\b\s*[:=]\s*)([^\s]+)`),
				repl: `${1}` + Placeholder,
			},
			{
				re:   regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`),
				repl: Placeholder,
			},
			{
				re:   regexp.MustCompile(`\b(?:ghp|gho|ghs|ghu|github_pat)_[A-Za-z0-9_]{20,}`),
				repl: Placeholder,
			},
			{
				re:   regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
				repl: Placeholder,
			},
			{
				re:   regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
				repl: Placeholder,
			},
		},
	}
}

// WithLiterals returns a copy of r that also masks each exact value, such
// as the configured reviewer credential. Empty values are ignored.
func (r *Redactor) WithLiterals(values ...string) *Redactor {
	cp := &Redactor{rules: r.rules, literals: append([]string(nil), r.literals...)}
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			cp.literals = append(cp.literals, v)
		}
	}
	return cp
}

// Text masks secrets in s.
func (r *Redactor) Text(s string) string {
	for _, lit := range r.literals {
		s = strings.ReplaceAll(s, lit, Placeholder)
	}
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return s
}

// Lines masks each line independently.
func (r *Redactor) Lines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = r.Text(l)
	}
	return out
}
