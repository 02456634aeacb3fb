package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/store"
	"github.com/Rogers-F/agentloop/internal/tui"
)

func newJobsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect stored jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, closeFn, err := opts.jobStore()
			if err != nil {
				return err
			}
			defer closeFn()
			list, err := jobs.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeJobs(cmd.OutOrStdout(), opts.output, list)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, closeFn, err := opts.jobStore()
			if err != nil {
				return err
			}
			defer closeFn()
			job, err := jobs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJob(cmd.OutOrStdout(), opts.output, job)
		},
	})
	return cmd
}

// jobStore opens the store read side without starting sessions.
func (o *globalOptions) jobStore() (*store.JobStore, func(), error) {
	cfg, err := o.loadConfig(false)
	if err != nil {
		return nil, nil, err
	}
	db, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return store.NewJobStore(db), func() { db.Close() }, nil
}

func writeJobs(w io.Writer, format string, jobs []domain.Job) error {
	if jobs == nil {
		jobs = []domain.Job{}
	}
	switch format {
	case "json":
		return writeJSON(w, jobs)
	case "yaml":
		return writeYAML(w, jobs)
	case "table", "":
		fmt.Fprintf(w, "%-40s %-16s %-4s %-19s %s\n", "ID", "STATUS", "FIX", "UPDATED", "DESCRIPTION")
		for _, j := range jobs {
			fmt.Fprintf(w, "%-40s %s %-4d %-19s %s\n",
				j.ID,
				tui.StatusStyle(j.Status).Render(fmt.Sprintf("%-16s", j.Status)),
				j.AutoFixCount,
				j.UpdatedAt.Local().Format(time.DateTime),
				tui.Truncate(j.Description, 60))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (table, json, yaml)", format)
	}
}

func writeJob(w io.Writer, format string, j *domain.Job) error {
	switch format {
	case "json":
		return writeJSON(w, j)
	case "yaml":
		return writeYAML(w, j)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q (table, json, yaml)", format)
	}

	fmt.Fprintf(w, "ID:          %s\n", j.ID)
	fmt.Fprintf(w, "Status:      %s\n", tui.StatusStyle(j.Status).Render(string(j.Status)))
	fmt.Fprintf(w, "Workspace:   %s\n", j.Workspace)
	fmt.Fprintf(w, "Session:     %s\n", dash(j.SessionID))
	fmt.Fprintf(w, "Snapshot:    %s\n", dash(j.LatestSnapshotID))
	fmt.Fprintf(w, "Auto-fixes:  %d\n", j.AutoFixCount)
	if j.Reason != "" {
		fmt.Fprintf(w, "Reason:      %s\n", j.Reason)
	}
	if r := j.LastReview; r != nil {
		fmt.Fprintf(w, "Review:      %s (%s), %d issues\n", r.Decision, r.AchievedLevel, len(r.Issues))
		if r.Summary != "" {
			fmt.Fprintf(w, "             %s\n", r.Summary)
		}
	}
	fmt.Fprintf(w, "Description:\n  %s\n", strings.ReplaceAll(j.Description, "\n", "\n  "))
	fmt.Fprintln(w, "History:")
	for _, e := range j.History {
		fmt.Fprintf(w, "  %s  %-10s %s\n", e.Timestamp.Local().Format(time.DateTime), e.Action, tui.Truncate(string(e.Result), 80))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML renders v with its JSON field names.
func writeYAML(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
