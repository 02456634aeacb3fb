// Package verify runs allow-listed check commands (lint, tests, build) in a
// job's workspace and reports their outcome.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// AutoProfile selects a profile from the workspace contents.
const AutoProfile = "auto"

// TailBytes bounds the captured stdout and stderr.
const TailBytes = 4000

// Exit codes reported when the command never ran.
const (
	ExitCommandNotFound = 127
	ExitStartFailed     = 1
	ExitNotRun          = -1
)

// Profile is one allow-listed command.
type Profile struct {
	Name    string
	Command string
	Args    []string
}

func (p Profile) String() string {
	return strings.TrimSpace(p.Command + " " + strings.Join(p.Args, " "))
}

var builtinProfiles = []Profile{
	{Name: "npm-lint", Command: "npm", Args: []string{"run", "lint"}},
	{Name: "npm-test", Command: "npm", Args: []string{"test"}},
	{Name: "go-test", Command: "go", Args: []string{"test", "./..."}},
	{Name: "go-vet", Command: "go", Args: []string{"vet", "./..."}},
	{Name: "cargo-check", Command: "cargo", Args: []string{"check"}},
	{Name: "make-test", Command: "make", Args: []string{"test"}},
}

var execCommandContext = exec.CommandContext

// Runner resolves profile names against its allow-list and runs them.
type Runner struct {
	profiles map[string]Profile
	logger   *slog.Logger
}

// NewRunner creates a runner with the built-in profiles plus extra, which
// override built-ins of the same name.
func NewRunner(extra []Profile, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{profiles: make(map[string]Profile), logger: logger}
	for _, p := range builtinProfiles {
		r.profiles[p.Name] = p
	}
	for _, p := range extra {
		r.profiles[p.Name] = p
	}
	return r
}

// Profiles returns the allow-listed profile names in sorted order.
func (r *Runner) Profiles() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Verify runs the named profile in workspace. A failing or missing command
// is reported in the result. Unknown profiles run nothing. The error is
// non-nil only when ctx ends first.
func (r *Runner) Verify(ctx context.Context, workspace, profile string) (domain.VerifyResult, error) {
	name := profile
	if name == "" || name == AutoProfile {
		detected, ok := DetectProfile(workspace)
		if !ok {
			r.logger.Warn("no verify profile detected", "workspace", workspace)
			return domain.VerifyResult{
				Profile:  AutoProfile,
				ExitCode: ExitNotRun,
				Error:    domain.ErrNoVerifyProfile.Message,
			}, nil
		}
		name = detected
	}

	p, ok := r.profiles[name]
	if !ok {
		r.logger.Warn("unknown verify profile", "profile", name)
		return domain.VerifyResult{
			Profile:  name,
			ExitCode: ExitNotRun,
			Error:    fmt.Sprintf("%s: %q", domain.ErrUnknownVerifyProfile.Message, name),
		}, nil
	}
	return r.run(ctx, workspace, p)
}

func (r *Runner) run(ctx context.Context, workspace string, p Profile) (domain.VerifyResult, error) {
	started := time.Now()
	var stdout, stderr bytes.Buffer
	cmd := execCommandContext(ctx, p.Command, p.Args...)
	cmd.Dir = workspace
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := domain.VerifyResult{
		Profile:    p.Name,
		StdoutTail: Tail(stdout.String(), TailBytes),
		StderrTail: Tail(stderr.String(), TailBytes),
		DurationMS: time.Since(started).Milliseconds(),
	}
	if ctx.Err() != nil {
		res.ExitCode = ExitNotRun
		res.Error = ctx.Err().Error()
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Success = true
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		reason := classifyStartError(err)
		res.ExitCode = ExitStartFailed
		if reason == "command_not_found" {
			res.ExitCode = ExitCommandNotFound
		}
		res.Error = fmt.Sprintf("%s: %v", reason, err)
	}
	r.logger.Info("verify ran", "profile", p.Name, "command", p.String(),
		"exit_code", res.ExitCode, "duration_ms", res.DurationMS)
	return res, nil
}

func classifyStartError(err error) string {
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return "command_not_found"
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && (errors.Is(pathErr.Err, exec.ErrNotFound) || errors.Is(pathErr.Err, os.ErrNotExist)) {
		return "command_not_found"
	}
	return "start_failed"
}

// Tail returns at most n trailing bytes of s, starting on a rune boundary.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for i := 0; i < len(s) && i < 4; i++ {
		if s[i]&0xC0 != 0x80 {
			return s[i:]
		}
	}
	return s
}
