package workflow

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/store"
)

type fakeSessions struct {
	mu       sync.Mutex
	order    []string
	live     map[string]bool
	handlers map[string]func(string)
	writes   map[string][]string
	launched map[string]bool
	writeErr error
}

func newFakeSessions(ids ...string) *fakeSessions {
	s := &fakeSessions{
		live:     make(map[string]bool),
		handlers: make(map[string]func(string)),
		writes:   make(map[string][]string),
		launched: make(map[string]bool),
	}
	for _, id := range ids {
		s.add(id)
	}
	return s
}

func (s *fakeSessions) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, id)
	s.live[id] = true
}

func (s *fakeSessions) kill(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, id)
	delete(s.handlers, id)
}

func (s *fakeSessions) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if s.live[s.order[i]] {
			return s.order[i], true
		}
	}
	return "", false
}

func (s *fakeSessions) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[id]
}

func (s *fakeSessions) LaunchAgent(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[id] {
		return false, domain.ErrSessionNotFound
	}
	if s.launched[id] {
		return false, nil
	}
	s.launched[id] = true
	return true, nil
}

func (s *fakeSessions) Write(id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[id] {
		return domain.ErrSessionNotFound
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes[id] = append(s.writes[id], string(data))
	return nil
}

func (s *fakeSessions) SetIdleHandler(id string, h func(string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[id] {
		return domain.ErrSessionNotFound
	}
	s.handlers[id] = h
	return nil
}

func (s *fakeSessions) ClearIdleHandler(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
}

func (s *fakeSessions) hasHandler(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[id] != nil
}

func (s *fakeSessions) written(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes[id]...)
}

// fire delivers an idle signal the way the session manager does.
func (s *fakeSessions) fire(id string) {
	s.mu.Lock()
	h := s.handlers[id]
	s.mu.Unlock()
	if h != nil {
		h(id)
	}
}

type fakeVerifier struct {
	result    domain.VerifyResult
	err       error
	block     bool
	calls     atomic.Int32
	cancelled atomic.Bool
}

func (v *fakeVerifier) Verify(ctx context.Context, workspace, profile string) (domain.VerifyResult, error) {
	v.calls.Add(1)
	if v.block {
		<-ctx.Done()
		v.cancelled.Store(true)
		return domain.VerifyResult{}, ctx.Err()
	}
	res := v.result
	res.Profile = profile
	return res, v.err
}

type fakeSnapshots struct {
	mu    sync.Mutex
	ids   []string
	err   error
	block bool
	reqs  []domain.SnapshotRequest
}

func (s *fakeSnapshots) CreateSnapshot(ctx context.Context, req domain.SnapshotRequest) (domain.SnapshotResult, error) {
	if s.block {
		<-ctx.Done()
		return domain.SnapshotResult{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return domain.SnapshotResult{}, s.err
	}
	id := "S1"
	if len(s.ids) > 0 {
		id = s.ids[0]
		s.ids = s.ids[1:]
	}
	return domain.SnapshotResult{SnapshotID: id, Summary: "1 file changed"}, nil
}

type fakeReviewer struct {
	mu      sync.Mutex
	results []domain.ReviewResult
	err     error
	gate    chan struct{}
	reqs    []domain.ReviewRequest
}

func (r *fakeReviewer) Review(ctx context.Context, req domain.ReviewRequest) (domain.ReviewResult, error) {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return domain.ReviewResult{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return domain.ReviewResult{}, r.err
	}
	res := r.results[0]
	if len(r.results) > 1 {
		r.results = r.results[1:]
	}
	return res, nil
}

func (r *fakeReviewer) requests() []domain.ReviewRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ReviewRequest(nil), r.reqs...)
}

type harness struct {
	o        *Orchestrator
	sessions *fakeSessions
	verifier *fakeVerifier
	snaps    *fakeSnapshots
	reviewer *fakeReviewer
	jobs     *store.JobStore
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "workflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		sessions: newFakeSessions("ses-1"),
		verifier: &fakeVerifier{result: domain.VerifyResult{Success: true}},
		snaps:    &fakeSnapshots{},
		reviewer: &fakeReviewer{},
		jobs:     store.NewJobStore(db),
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = -1
	}
	h.o = New(cfg, Deps{
		Sessions:  h.sessions,
		Verifier:  h.verifier,
		Snapshots: h.snaps,
		Reviewer:  h.reviewer,
		Jobs:      h.jobs,
	})
	t.Cleanup(h.o.Close)
	return h
}

// started creates a job and starts it on ses-1.
func (h *harness) started(t *testing.T) *domain.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.o.CreateJob(ctx, "add a health endpoint", t.TempDir())
	require.NoError(t, err)
	job, err = h.o.StartJob(ctx, job.ID, "ses-1")
	require.NoError(t, err)
	require.Equal(t, domain.JobRunning, job.Status)
	return job
}

func (h *harness) inFlight(jobID string) bool {
	h.o.mu.Lock()
	defer h.o.mu.Unlock()
	rt := h.o.runtimes[jobID]
	return rt != nil && rt.advancing
}

// idle waits until the job listens on sid and no round is running, then
// signals quiescence.
func (h *harness) idle(t *testing.T, jobID, sid string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.sessions.hasHandler(sid) && !h.inFlight(jobID)
	}, 2*time.Second, 5*time.Millisecond, "job never listened for idle")
	h.sessions.fire(sid)
}

func (h *harness) waitStatus(t *testing.T, jobID string, want domain.JobStatus) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.jobs.Get(context.Background(), jobID)
		return err == nil && job.Status == want && !h.inFlight(jobID)
	}, 3*time.Second, 5*time.Millisecond, "job never reached %s", want)
	return job
}

func actions(job *domain.Job) []string {
	out := make([]string, 0, len(job.History))
	for _, e := range job.History {
		out = append(out, e.Action)
	}
	return out
}
