package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/tui"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Follow jobs as they change",
		Long: `watch shows a live view of jobs. When stdout is not a terminal it prints
one line per status change instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			}
			jobs, closeFn, err := opts.jobStore()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if f, ok := cmd.OutOrStdout().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				return tui.Run(ctx, jobs, interval, jobID)
			}
			return pollJobs(ctx, jobs, interval, jobID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "refresh interval")
	return cmd
}

// pollJobs prints a line whenever a job's status or reason changes. With a
// job id it returns once that job completes or fails.
func pollJobs(ctx context.Context, source tui.Source, interval time.Duration, jobID string, w io.Writer) error {
	if interval <= 0 {
		interval = time.Second
	}
	seen := make(map[string]string)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		jobs, err := source.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		found := false
		for _, j := range jobs {
			if jobID != "" && j.ID != jobID {
				continue
			}
			found = true
			key := string(j.Status) + "|" + j.Reason
			if seen[j.ID] == key {
				continue
			}
			seen[j.ID] = key
			fmt.Fprintln(w, statusLine(j))
			if jobID != "" && j.Status.IsTerminal() {
				return nil
			}
		}
		if jobID != "" && !found {
			return domain.ErrJobNotFound
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func statusLine(j domain.Job) string {
	line := fmt.Sprintf("%s %s %s", j.UpdatedAt.Local().Format(time.DateTime), j.ID, j.Status)
	if j.Reason != "" {
		line += " (" + j.Reason + ")"
	}
	return line
}
