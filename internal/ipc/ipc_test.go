package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/store"
	"github.com/Rogers-F/agentloop/internal/workflow"
)

// stubSessions satisfies both SessionControl and workflow.Sessions.
type stubSessions struct {
	mu       sync.Mutex
	order    []string
	live     map[string]string
	writes   map[string][]string
	handlers map[string]func(string)
	size     map[string][2]uint16
}

func newStubSessions() *stubSessions {
	return &stubSessions{
		live:     make(map[string]string),
		writes:   make(map[string][]string),
		handlers: make(map[string]func(string)),
		size:     make(map[string][2]uint16),
	}
}

func (s *stubSessions) Create(workspace string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "ses-" + string(rune('1'+len(s.order)))
	s.order = append(s.order, id)
	s.live[id] = workspace
	return id, nil
}

func (s *stubSessions) List() []domain.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SessionInfo
	for _, id := range s.order {
		if ws, ok := s.live[id]; ok {
			out = append(out, domain.SessionInfo{ID: id, Workspace: ws})
		}
	}
	return out
}

func (s *stubSessions) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[id]
	return ok
}

func (s *stubSessions) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if _, ok := s.live[s.order[i]]; ok {
			return s.order[i], true
		}
	}
	return "", false
}

func (s *stubSessions) Write(id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[id]; !ok {
		return domain.ErrSessionNotFound
	}
	s.writes[id] = append(s.writes[id], string(data))
	return nil
}

func (s *stubSessions) Resize(id string, cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[id]; !ok {
		return domain.ErrSessionNotFound
	}
	s.size[id] = [2]uint16{cols, rows}
	return nil
}

func (s *stubSessions) Terminate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.live, id)
	return nil
}

func (s *stubSessions) RecentOutput(id string) []string {
	return []string{"$ agent", "ready"}
}

func (s *stubSessions) Metrics(id string) (domain.SessionMetrics, error) {
	if !s.Exists(id) {
		return domain.SessionMetrics{}, domain.ErrSessionNotFound
	}
	return domain.SessionMetrics{PID: 4242, BytesRead: 12}, nil
}

func (s *stubSessions) LaunchAgent(id string) (bool, error) { return true, nil }

func (s *stubSessions) SetIdleHandler(id string, h func(string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[id] = h
	return nil
}

func (s *stubSessions) ClearIdleHandler(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
}

func (s *stubSessions) written(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes[id]...)
}

type passVerifier struct{}

func (passVerifier) Verify(_ context.Context, _, profile string) (domain.VerifyResult, error) {
	return domain.VerifyResult{Profile: profile, Success: true}, nil
}

type fixedSnapshots struct{}

func (fixedSnapshots) CreateSnapshot(context.Context, domain.SnapshotRequest) (domain.SnapshotResult, error) {
	return domain.SnapshotResult{SnapshotID: "snap-1", Summary: "1 modified"}, nil
}

type stubReviews struct {
	records []domain.ReviewRecord
}

func (r stubReviews) History(_ context.Context, jobID string) ([]domain.ReviewRecord, error) {
	var out []domain.ReviewRecord
	for _, rec := range r.records {
		if rec.JobID == jobID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type testEnv struct {
	h        *Handler
	sessions *stubSessions
	orch     *workflow.Orchestrator
}

func newTestHandler(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewDB(dbPath)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := newStubSessions()
	orch := workflow.New(workflow.Config{SettleDelay: -1, Logger: logger}, workflow.Deps{
		Sessions:  sessions,
		Verifier:  passVerifier{},
		Snapshots: fixedSnapshots{},
		Jobs:      store.NewJobStore(db),
	})
	t.Cleanup(orch.Close)

	return &testEnv{
		h: &Handler{
			Sessions:  sessions,
			Jobs:      orch,
			DB:        db,
			AuditRepo: &store.AuditRepo{},
			Logger:    logger,
			Version:   "test",
			KeepAlive: 20 * time.Millisecond,
		},
		sessions: sessions,
		orch:     orch,
	}
}

func (e *testEnv) createJob(t *testing.T, start bool) domain.Job {
	t.Helper()
	if start {
		if _, err := e.sessions.Create(t.TempDir()); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	body := `{"description":"add a health endpoint","workspace":"/tmp/ws","start":` + strconv.FormatBool(start) + `}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	e.h.CreateJob(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var job domain.Job
	json.NewDecoder(w.Body).Decode(&job)
	return job
}

// waitingApproval starts a job and lets it run through the pipeline.
func (e *testEnv) waitingApproval(t *testing.T) domain.Job {
	t.Helper()
	job := e.createJob(t, true)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/advance", nil)
	req.SetPathValue("id", job.ID)
	w := httptest.NewRecorder()
	e.h.AdvanceJob(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("advance: expected 202, got %d: %s", w.Code, w.Body.String())
	}
	return e.waitFor(t, job.ID, domain.JobWaitingApproval)
}

func (e *testEnv) waitFor(t *testing.T, jobID string, want domain.JobStatus) domain.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := e.orch.Get(context.Background(), jobID)
		if err == nil && job.Status == want {
			return *job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return domain.Job{}
}

// retryBusy repeats a request while the previous pipeline round is still
// winding down.
func retryBusy(fn func() *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := fn()
		if w.Code != http.StatusConflict || time.Now().After(deadline) {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	e.h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestCreateSession_AuditsAndLists(t *testing.T) {
	e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewBufferString(`{"workspace":"/tmp/ws"}`))
	req.Header.Set("X-Actor", "alice")
	w := httptest.NewRecorder()

	e.h.CreateSession(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created map[string]string
	json.NewDecoder(w.Body).Decode(&created)
	if created["session_id"] != "ses-1" {
		t.Fatalf("expected ses-1, got %v", created)
	}

	recs, err := e.h.AuditRepo.ListByJob(context.Background(), e.h.DB, "")
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(recs) != 1 || recs[0].Action != "create" || recs[0].Actor != "alice" || recs[0].Category != "session" {
		t.Errorf("unexpected audit records: %+v", recs)
	}

	w = httptest.NewRecorder()
	e.h.ListSessions(w, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	var infos []domain.SessionInfo
	json.NewDecoder(w.Body).Decode(&infos)
	if len(infos) != 1 || infos[0].Workspace != "/tmp/ws" {
		t.Errorf("unexpected sessions: %+v", infos)
	}
}

func TestSessionEndpoints(t *testing.T) {
	e := newTestHandler(t)
	id, _ := e.sessions.Create("/tmp/ws")

	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"data":"ls\r"}`))
	req.SetPathValue("id", id)
	w := httptest.NewRecorder()
	e.h.SessionInput(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("input: expected 204, got %d", w.Code)
	}
	if got := e.sessions.written(id); len(got) != 1 || got[0] != "ls\r" {
		t.Errorf("unexpected writes: %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"cols":100,"rows":40}`))
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	e.h.ResizeSession(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("resize: expected 204, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"cols":0,"rows":40}`))
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	e.h.ResizeSession(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("zero resize: expected 400, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	e.h.SessionOutput(w, req)
	var out OutputResponse
	json.NewDecoder(w.Body).Decode(&out)
	if w.Code != http.StatusOK || len(out.Lines) != 2 {
		t.Errorf("output: %d %+v", w.Code, out)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	e.h.SessionMetrics(w, req)
	var m domain.SessionMetrics
	json.NewDecoder(w.Body).Decode(&m)
	if m.PID != 4242 {
		t.Errorf("expected pid 4242, got %+v", m)
	}

	req = httptest.NewRequest(http.MethodDelete, "/x", nil)
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	e.h.TerminateSession(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("terminate: expected 204, got %d", w.Code)
	}
	if e.sessions.Exists(id) {
		t.Error("session still live after terminate")
	}
}

func TestSessionEndpoints_NotFound(t *testing.T) {
	e := newTestHandler(t)
	handlers := map[string]http.HandlerFunc{
		"input":     e.h.SessionInput,
		"output":    e.h.SessionOutput,
		"metrics":   e.h.SessionMetrics,
		"terminate": e.h.TerminateSession,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"data":"x"}`))
			req.SetPathValue("id", "ses-missing")
			w := httptest.NewRecorder()
			fn(w, req)
			if w.Code != http.StatusNotFound {
				t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateJob_Idle(t *testing.T) {
	e := newTestHandler(t)
	job := e.createJob(t, false)
	if job.Status != domain.JobIdle {
		t.Errorf("expected idle, got %s", job.Status)
	}
	if !strings.HasPrefix(job.ID, "job-") {
		t.Errorf("unexpected id %q", job.ID)
	}
}

func TestCreateJob_StartSendsDescription(t *testing.T) {
	e := newTestHandler(t)
	job := e.createJob(t, true)
	if job.Status != domain.JobRunning || job.SessionID != "ses-1" {
		t.Fatalf("expected running on ses-1, got %s on %q", job.Status, job.SessionID)
	}
	got := e.sessions.written("ses-1")
	if len(got) != 1 || got[0] != "add a health endpoint\r" {
		t.Errorf("unexpected writes: %q", got)
	}
}

func TestCreateJob_InvalidBody(t *testing.T) {
	e := newTestHandler(t)
	for _, body := range []string{"not json", `{"workspace":"/tmp"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		e.h.CreateJob(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestCreateJob_StartWithoutSession(t *testing.T) {
	e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs",
		bytes.NewBufferString(`{"description":"d","workspace":"/tmp","start":true}`))
	w := httptest.NewRecorder()
	e.h.CreateJob(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	var apiErr APIError
	json.NewDecoder(w.Body).Decode(&apiErr)
	if apiErr.Code != domain.ErrNoActiveSession.Code {
		t.Errorf("expected no active session code, got %+v", apiErr)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil)
	req.SetPathValue("id", "nope")
	w := httptest.NewRecorder()
	e.h.GetJob(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListJobs_Empty(t *testing.T) {
	e := newTestHandler(t)
	w := httptest.NewRecorder()
	e.h.ListJobs(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestStartJob_WithSession(t *testing.T) {
	e := newTestHandler(t)
	job := e.createJob(t, false)
	sid, _ := e.sessions.Create("/tmp/ws")

	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"session_id":"`+sid+`"}`))
	req.SetPathValue("id", job.ID)
	w := httptest.NewRecorder()
	e.h.StartJob(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.SetPathValue("id", job.ID)
	w = httptest.NewRecorder()
	e.h.StartJob(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("second start: expected 422, got %d", w.Code)
	}
}

func TestAdvanceThenApprove(t *testing.T) {
	e := newTestHandler(t)
	job := e.waitingApproval(t)
	if job.LatestSnapshotID != "snap-1" {
		t.Errorf("expected snap-1, got %q", job.LatestSnapshotID)
	}

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.SetPathValue("id", job.ID)
	w := httptest.NewRecorder()
	e.h.ApproveJob(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var approved domain.Job
	json.NewDecoder(w.Body).Decode(&approved)
	if approved.Status != domain.JobCompleted {
		t.Errorf("expected completed, got %s", approved.Status)
	}

	recs, _ := e.h.AuditRepo.ListByJob(context.Background(), e.h.DB, job.ID)
	var acts []string
	for _, r := range recs {
		acts = append(acts, r.Action)
	}
	if strings.Join(acts, ",") != "create,start,advance,approve" {
		t.Errorf("unexpected audit trail: %v", acts)
	}
}

func TestApprove_WrongState(t *testing.T) {
	e := newTestHandler(t)
	job := e.createJob(t, false)
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.SetPathValue("id", job.ID)
	w := httptest.NewRecorder()
	e.h.ApproveJob(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestFixJob(t *testing.T) {
	e := newTestHandler(t)
	job := e.waitingApproval(t)

	w := retryBusy(func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString(`{"instructions":"rename the handler"}`))
		req.SetPathValue("id", job.ID)
		w := httptest.NewRecorder()
		e.h.FixJob(w, req)
		return w
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var fixed domain.Job
	json.NewDecoder(w.Body).Decode(&fixed)
	if fixed.Status != domain.JobFixing {
		t.Errorf("expected fixing, got %s", fixed.Status)
	}
	got := e.sessions.written("ses-1")
	if got[len(got)-1] != "rename the handler\r" {
		t.Errorf("unexpected last write %q", got[len(got)-1])
	}
}

func TestFixJob_NoInstructionsNoReview(t *testing.T) {
	e := newTestHandler(t)
	job := e.waitingApproval(t)
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.SetPathValue("id", job.ID)
	w := httptest.NewRecorder()
	e.h.FixJob(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRetryJob(t *testing.T) {
	e := newTestHandler(t)
	job := e.waitingApproval(t)

	w := retryBusy(func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.SetPathValue("id", job.ID)
		w := httptest.NewRecorder()
		e.h.RetryJob(w, req)
		return w
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	e.waitFor(t, job.ID, domain.JobWaitingApproval)
}

func TestListReviews(t *testing.T) {
	e := newTestHandler(t)
	job := e.createJob(t, false)
	e.h.Reviews = stubReviews{records: []domain.ReviewRecord{
		{ID: "rev-1", JobID: job.ID, Reviewer: "cheap", Result: domain.ReviewResult{Decision: domain.DecisionApprove}},
		{ID: "rev-2", JobID: "other"},
	}}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.SetPathValue("id", job.ID)
	w := httptest.NewRecorder()
	e.h.ListReviews(w, req)
	var recs []domain.ReviewRecord
	json.NewDecoder(w.Body).Decode(&recs)
	if len(recs) != 1 || recs[0].ID != "rev-1" {
		t.Errorf("unexpected reviews: %+v", recs)
	}
}

func TestListReviews_NoReviewer(t *testing.T) {
	e := newTestHandler(t)
	job := e.createJob(t, false)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.SetPathValue("id", job.ID)
	w := httptest.NewRecorder()
	e.h.ListReviews(w, req)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestStreamJob_SSE(t *testing.T) {
	e := newTestHandler(t)
	srv := httptest.NewServer(NewServer(e.h, "").Handler())
	defer srv.Close()

	job := e.createJob(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	go func() {
		adv, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/jobs/"+job.ID+"/advance", nil)
		if r, err := http.DefaultClient.Do(adv); err == nil {
			r.Body.Close()
		}
	}()

	var statuses []domain.JobStatus
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var u domain.JobUpdate
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &u); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		statuses = append(statuses, u.Job.Status)
		if u.Job.Status == domain.JobWaitingApproval {
			break
		}
	}

	want := []domain.JobStatus{domain.JobRunning, domain.JobVerifying, domain.JobSnapshotting, domain.JobWaitingApproval}
	if len(statuses) != len(want) {
		t.Fatalf("expected %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, statuses)
		}
	}
}

func TestRouting_NotFoundAndMethod(t *testing.T) {
	e := newTestHandler(t)
	srv := httptest.NewServer(NewServer(e.h, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/jobs/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/jobs/missing/approve")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	e := newTestHandler(t)
	handler := NewServer(e.h, "").Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS Allow-Origin header")
	}
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrJobNotFound, http.StatusNotFound},
		{domain.ErrJobBusy, http.StatusConflict},
		{domain.ErrInvalidTransition, http.StatusUnprocessableEntity},
		{domain.ErrInvalidJob, http.StatusBadRequest},
		{domain.ErrOrchestratorDown, http.StatusServiceUnavailable},
		{domain.WrapEngineError(domain.ErrSpawnFailed.Code, "spawn", io.EOF), http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		writeError(w, tt.err)
		if w.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, w.Code)
		}
	}
}

func TestListAudit(t *testing.T) {
	e := newTestHandler(t)
	e.createJob(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit?category=job&limit=1", nil)
	w := httptest.NewRecorder()
	e.h.ListAudit(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var recs []domain.AuditRecord
	json.NewDecoder(w.Body).Decode(&recs)
	if len(recs) != 1 || recs[0].Action != "start" {
		t.Errorf("expected latest job record to be start, got %+v", recs)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/audit?limit=zero", nil)
	w = httptest.NewRecorder()
	e.h.ListAudit(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}
