package reviewer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/review"
)

var (
	execCommandContext = exec.CommandContext
	lookPath           = exec.LookPath
)

// CommandReviewer pipes the review prompt to a CLI and parses the JSON
// verdict from its stdout.
type CommandReviewer struct {
	ID      string
	Command string
	Args    []string
	Env     map[string]string
	// CredentialEnv names the environment variable that carries the
	// credential to the CLI.
	CredentialEnv string
}

// Name returns the reviewer's configured name.
func (c *CommandReviewer) Name() string { return c.ID }

// Review runs the command once.
func (c *CommandReviewer) Review(ctx context.Context, in Input) (domain.ReviewResult, error) {
	cmd := execCommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = strings.NewReader(BuildPrompt(in))
	cmd.Env = c.environ(in.Credential)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return domain.ReviewResult{}, ctx.Err()
		}
		if _, lookErr := lookPath(c.Command); lookErr != nil {
			return domain.ReviewResult{}, domain.NewEngineError(domain.ErrReviewerFailed.Code,
				fmt.Sprintf("reviewer %s: %s CLI not found", c.ID, c.Command))
		}
		return domain.ReviewResult{}, domain.WrapEngineError(domain.ErrReviewerFailed.Code,
			fmt.Sprintf("reviewer %s: %s", c.ID, strings.TrimSpace(stderr.String())), err)
	}

	result, err := review.Parse(stdout.String())
	if err != nil {
		return domain.ReviewResult{}, fmt.Errorf("reviewer %s: %w", c.ID, err)
	}
	return result, nil
}

func (c *CommandReviewer) environ(credential string) []string {
	env := os.Environ()
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	if c.CredentialEnv != "" && credential != "" {
		env = append(env, c.CredentialEnv+"="+credential)
	}
	return env
}
