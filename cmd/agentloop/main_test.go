package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/store"
)

func TestResolveConfigPath_Precedence(t *testing.T) {
	t.Setenv(configEnv, "/from/env.yaml")
	assert.Equal(t, "/from/flag.toml", resolveConfigPath("/from/flag.toml"))
	assert.Equal(t, "/from/env.yaml", resolveConfigPath(""))
	assert.Equal(t, "/from/env.yaml", resolveConfigPath("   "))
}

func TestDiscoverConfig_Cwd(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	assert.Equal(t, "", discoverConfig())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agentloop.toml"), []byte("max_auto_fix = 3\n"), 0o644))
	assert.Equal(t, "agentloop.toml", discoverConfig())
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, 0, exitCodeFor(domain.JobCompleted))
	assert.Equal(t, 2, exitCodeFor(domain.JobWaitingApproval))
	assert.Equal(t, 1, exitCodeFor(domain.JobFailed))
	assert.True(t, settled(domain.JobWaitingApproval))
	assert.False(t, settled(domain.JobReviewing))
}

// seedStore writes a config pointing at a temp data dir and stores one job.
func seedStore(t *testing.T) (cfgPath string, jobID string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "agentloop.json")
	body, _ := json.Marshal(map[string]any{"data_dir": dir})
	require.NoError(t, os.WriteFile(cfgPath, body, 0o644))

	db, err := store.NewDB(filepath.Join(dir, "agentloop.db"))
	require.NoError(t, err)
	defer db.Close()

	desc, ws := "add a health endpoint", "/tmp/ws"
	failed := domain.JobFailed
	reason := "Verify timed out after 10m0s"
	jobID = "job-seeded"
	_, err = store.NewJobStore(db).Upsert(context.Background(), jobID, domain.JobPatch{
		Description:   &desc,
		Workspace:     &ws,
		Status:        &failed,
		Reason:        &reason,
		AppendHistory: []domain.HistoryEntry{domain.NewHistoryEntry("failed", map[string]string{"reason": reason})},
	})
	require.NoError(t, err)
	return cfgPath, jobID
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestJobsList_Formats(t *testing.T) {
	cfgPath, jobID := seedStore(t)

	out, err := runCLI(t, "--config", cfgPath, "jobs", "list", "-o", "json")
	require.NoError(t, err)
	var jobs []domain.Job
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].ID)
	assert.Equal(t, domain.JobFailed, jobs[0].Status)

	out, err = runCLI(t, "--config", cfgPath, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, jobID)
	assert.Contains(t, out, "add a health endpoint")
}

func TestJobsShow(t *testing.T) {
	cfgPath, jobID := seedStore(t)

	out, err := runCLI(t, "--config", cfgPath, "jobs", "show", jobID, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "status: failed")
	assert.Contains(t, out, "reason: Verify timed out after 10m0s")

	out, err = runCLI(t, "--config", cfgPath, "jobs", "show", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, "Reason:      Verify timed out")
	assert.Contains(t, out, "failed")

	_, err = runCLI(t, "--config", cfgPath, "jobs", "show", "job-missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobsList_UnknownFormat(t *testing.T) {
	cfgPath, _ := seedStore(t)
	_, err := runCLI(t, "--config", cfgPath, "jobs", "list", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestLoadConfig_Required(t *testing.T) {
	t.Setenv(configEnv, "")
	dir := t.TempDir()
	wd, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	opts := &globalOptions{}
	_, err := opts.loadConfig(true)
	require.Error(t, err)

	cfg, err := opts.loadConfig(false)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.AutoFixLimit())
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "agentloop dev"))
}

func TestExecute_ExitCodes(t *testing.T) {
	assert.Equal(t, 0, execute([]string{"version"}))
	assert.Equal(t, 1, execute([]string{"no-such-command"}))
}

type listSource struct {
	calls int
	seq   [][]domain.Job
}

func (s *listSource) List(context.Context) ([]domain.Job, error) {
	i := s.calls
	if i >= len(s.seq) {
		i = len(s.seq) - 1
	}
	s.calls++
	return s.seq[i], nil
}

func TestPollJobs_PrintsChangesUntilTerminal(t *testing.T) {
	job := func(s domain.JobStatus, reason string) []domain.Job {
		return []domain.Job{{ID: "job-1", Status: s, Reason: reason}}
	}
	src := &listSource{seq: [][]domain.Job{
		job(domain.JobRunning, ""),
		job(domain.JobRunning, ""),
		job(domain.JobVerifying, ""),
		job(domain.JobFailed, "Verify failed: exit 1"),
	}}
	var out bytes.Buffer
	err := pollJobs(context.Background(), src, time.Millisecond, "job-1", &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "running")
	assert.Contains(t, lines[2], "failed (Verify failed: exit 1)")
}

func TestPollJobs_UnknownJob(t *testing.T) {
	src := &listSource{seq: [][]domain.Job{{}}}
	err := pollJobs(context.Background(), src, time.Millisecond, "job-x", &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
