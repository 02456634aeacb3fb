package snapshot

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RunGit runs git in repoPath and returns its trimmed combined output.
func RunGit(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath

	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), " \t\r\n")
	if err != nil {
		return output, fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), output, err)
	}
	return output, nil
}

// workingTree is the git view of a workspace at one point in time.
type workingTree struct {
	Status string
	Diff   string
	Log    string
}

func captureTree(ctx context.Context, workspace string) (workingTree, error) {
	var t workingTree
	if _, err := RunGit(ctx, workspace, "rev-parse", "--is-inside-work-tree"); err != nil {
		return t, fmt.Errorf("workspace is not a git repository: %w", err)
	}

	status, err := RunGit(ctx, workspace, "status", "--porcelain", "-uall")
	if err != nil {
		return t, err
	}
	t.Status = status

	// A repository without commits has no HEAD to diff against.
	diff, err := RunGit(ctx, workspace, "diff", "HEAD")
	if err != nil {
		if diff, err = RunGit(ctx, workspace, "diff"); err != nil {
			return t, err
		}
	}
	t.Diff = diff

	if log, err := RunGit(ctx, workspace, "log", "-n", "20", "--oneline"); err == nil {
		t.Log = log
	}
	return t, ctx.Err()
}

// summarize describes the change set from porcelain status lines.
func summarize(status string) string {
	if strings.TrimSpace(status) == "" {
		return "no changes"
	}
	var modified, added, deleted, untracked int
	for _, line := range strings.Split(status, "\n") {
		if len(line) < 3 {
			continue
		}
		switch code := line[:2]; {
		case code == "??":
			untracked++
		case strings.Contains(code, "D"):
			deleted++
		case strings.Contains(code, "A"):
			added++
		default:
			modified++
		}
	}
	parts := make([]string, 0, 4)
	for _, p := range []struct {
		n    int
		word string
	}{{modified, "modified"}, {added, "added"}, {deleted, "deleted"}, {untracked, "untracked"}} {
		if p.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", p.n, p.word))
		}
	}
	return strings.Join(parts, ", ")
}
