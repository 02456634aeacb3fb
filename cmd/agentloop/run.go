package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// Exit codes of the run command.
const (
	exitCompleted       = 0
	exitFailed          = 1
	exitWaitingApproval = 2
)

// exitCodeFor maps a settled job status onto a process exit code.
func exitCodeFor(s domain.JobStatus) int {
	switch s {
	case domain.JobCompleted:
		return exitCompleted
	case domain.JobWaitingApproval:
		return exitWaitingApproval
	default:
		return exitFailed
	}
}

// settled reports whether a headless run can stop watching the job.
func settled(s domain.JobStatus) bool {
	return s.IsTerminal() || s == domain.JobWaitingApproval
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		workspace   string
		description string
		profile     string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one job headless and exit with its outcome",
		Long: `run creates a session in the workspace, starts a job with the given
description and follows it until it settles.

Exit codes: 0 completed, 2 waiting for approval, 1 failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(false)
			if err != nil {
				return err
			}
			if profile != "" {
				cfg.VerifyProfile = profile
			}
			if workspace == "" {
				workspace, _ = os.Getwd()
			}
			workspace, err = filepath.Abs(workspace)
			if err != nil {
				return err
			}
			logger := opts.logger(cfg, os.Stderr)

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			job, err := runJob(ctx, a, workspace, description, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			code := exitCodeFor(job.Status)
			if code == exitCompleted {
				return nil
			}
			msg := ""
			if job.Reason != "" {
				msg = "reason: " + job.Reason
			}
			return &exitError{code: code, msg: msg}
		},
	}
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: cwd)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task for the agent")
	cmd.Flags().StringVar(&profile, "profile", "", "verify profile (overrides verify_profile)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 = no limit)")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

// runJob starts a job on a fresh session and prints each transition until
// the job settles or ctx ends.
func runJob(ctx context.Context, a *app, workspace, description string, w io.Writer) (*domain.Job, error) {
	updates, cancel := a.orch.Subscribe(64)
	defer cancel()

	sid, err := a.sessions.Create(workspace)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer a.sessions.Terminate(sid)

	job, err := a.orch.CreateJob(ctx, description, workspace)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "job %s created on session %s\n", job.ID, sid)

	if job, err = a.orch.StartJob(ctx, job.ID, sid); err != nil {
		return nil, err
	}

	for !settled(job.Status) {
		select {
		case <-ctx.Done():
			current, err := a.orch.Get(context.Background(), job.ID)
			if err != nil {
				return nil, err
			}
			return current, fmt.Errorf("job %s still %s: %w", job.ID, current.Status, ctx.Err())
		case u, ok := <-updates:
			if !ok {
				return a.orch.Get(context.Background(), job.ID)
			}
			if u.JobID != job.ID {
				continue
			}
			current := u.Job
			job = &current
			line := fmt.Sprintf("%s  %s", time.Now().Format(time.TimeOnly), job.Status)
			if job.Reason != "" {
				line += "  " + job.Reason
			}
			fmt.Fprintln(w, line)
		}
	}
	return job, nil
}
