// Package workflow drives jobs through the agent loop: wait for the agent
// to go quiet, verify, snapshot, review, then fix, approve or fail.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// Sessions is the part of the session manager the orchestrator drives.
// Every call names its session explicitly.
type Sessions interface {
	Active() (string, bool)
	Exists(id string) bool
	LaunchAgent(id string) (bool, error)
	Write(id string, data []byte) error
	SetIdleHandler(id string, h func(sessionID string)) error
	ClearIdleHandler(id string)
}

// Verifier runs an allow-listed verification profile. A failing command is
// reported in the result; an error means the phase itself failed.
type Verifier interface {
	Verify(ctx context.Context, workspace, profile string) (domain.VerifyResult, error)
}

// Snapshotter captures workspace changes.
type Snapshotter interface {
	CreateSnapshot(ctx context.Context, req domain.SnapshotRequest) (domain.SnapshotResult, error)
}

// Reviewer scores a snapshot.
type Reviewer interface {
	Review(ctx context.Context, req domain.ReviewRequest) (domain.ReviewResult, error)
}

// JobRepository is the durable job store. Upsert applies a partial patch
// and returns the full stored record.
type JobRepository interface {
	Get(ctx context.Context, id string) (*domain.Job, error)
	Upsert(ctx context.Context, id string, patch domain.JobPatch) (*domain.Job, error)
	List(ctx context.Context) ([]domain.Job, error)
}

// Config holds the orchestrator's timing and policy knobs.
type Config struct {
	// SettleDelay is waited between an idle signal and Verify. Zero means
	// the two second default; negative means no delay.
	SettleDelay     time.Duration
	VerifyTimeout   time.Duration
	SnapshotTimeout time.Duration
	ReviewTimeout   time.Duration
	// PromptDelay is waited after launching the agent and before sending
	// the job description.
	PromptDelay   time.Duration
	MaxAutoFix    int
	VerifyProfile string
	// Credential is passed to the reviewer. Empty means no reviewer is
	// configured and snapshots go to waiting_approval.
	Credential string
	Logger     *slog.Logger
}

func (c *Config) applyDefaults() {
	switch {
	case c.SettleDelay == 0:
		c.SettleDelay = 2 * time.Second
	case c.SettleDelay < 0:
		c.SettleDelay = 0
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 10 * time.Minute
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 5 * time.Minute
	}
	if c.ReviewTimeout <= 0 {
		c.ReviewTimeout = 3 * time.Minute
	}
	if c.MaxAutoFix < 0 {
		c.MaxAutoFix = 0
	}
	if c.VerifyProfile == "" {
		c.VerifyProfile = "auto"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Deps are the orchestrator's collaborators. Reviewer may be nil.
type Deps struct {
	Sessions  Sessions
	Verifier  Verifier
	Snapshots Snapshotter
	Reviewer  Reviewer
	Jobs      JobRepository
}

// jobRuntime is the in-memory context of one job: its bound session and
// whether a pipeline round is in flight.
type jobRuntime struct {
	sessionID     string
	advancing     bool
	sessionExited bool
	exitCode      int
	cancel        context.CancelFunc
}

// Orchestrator is the only writer of job state.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// writeMu serializes read-check-write cycles on job records.
	writeMu sync.Mutex

	mu        sync.Mutex
	runtimes  map[string]*jobRuntime
	bySession map[string]string
	subs      map[int]chan domain.JobUpdate
	nextSub   int
	closed    bool
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		logger:    cfg.Logger,
		base:      base,
		stop:      stop,
		runtimes:  make(map[string]*jobRuntime),
		bySession: make(map[string]string),
		subs:      make(map[int]chan domain.JobUpdate),
	}
}

// ReviewerConfigured reports whether snapshots are sent for review.
func (o *Orchestrator) ReviewerConfigured() bool {
	return o.cfg.Credential != "" && o.deps.Reviewer != nil
}

// CreateJob records a new idle job.
func (o *Orchestrator) CreateJob(ctx context.Context, description, workspace string) (*domain.Job, error) {
	if strings.TrimSpace(description) == "" {
		return nil, domain.NewEngineError(domain.ErrInvalidJob.Code, "description is required")
	}
	id := "job-" + uuid.NewString()
	idle := domain.JobIdle
	job, err := o.deps.Jobs.Upsert(ctx, id, domain.JobPatch{
		Description:   &description,
		Workspace:     &workspace,
		Status:        &idle,
		AppendHistory: []domain.HistoryEntry{domain.NewHistoryEntry("created", map[string]string{"workspace": workspace})},
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("job created", "job_id", id, "workspace", workspace)
	o.publish(job)
	return job, nil
}

// Get returns a job by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Job, error) {
	return o.deps.Jobs.Get(ctx, id)
}

// List returns all jobs, most recently updated first.
func (o *Orchestrator) List(ctx context.Context) ([]domain.Job, error) {
	return o.deps.Jobs.List(ctx)
}

// Subscribe returns a channel receiving the full job record on every
// transition, and a cancel function. Slow subscribers miss updates.
func (o *Orchestrator) Subscribe(buffer int) (<-chan domain.JobUpdate, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan domain.JobUpdate, buffer)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if c, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(c)
			}
		})
	}
}

func (o *Orchestrator) publish(job *domain.Job) {
	update := domain.JobUpdate{JobID: job.ID, Job: *job}
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ch := range o.subs {
		select {
		case ch <- update:
		default:
			o.logger.Debug("job update dropped", "subscriber", id, "job_id", job.ID)
		}
	}
}

// change describes one status transition. when, if set, must accept the
// current status or the change is skipped.
type change struct {
	to     domain.JobStatus
	patch  domain.JobPatch
	action string
	result any
	when   func(domain.JobStatus) bool
}

// errSkipped reports a guarded change whose precondition no longer holds.
var errSkipped = errors.New("transition skipped")

// updateStatus is the single primitive that mutates a job: validate the
// transition, persist the record with its history entry, then publish
// the full updated record.
func (o *Orchestrator) updateStatus(jobID string, c change) (*domain.Job, error) {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	ctx := context.Background()
	cur, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if c.when != nil && !c.when(cur.Status) {
		return cur, errSkipped
	}
	if !IsValidTransition(cur.Status, c.to) {
		return nil, domain.NewEngineError(domain.ErrInvalidTransition.Code,
			fmt.Sprintf("%s: %s -> %s", domain.ErrInvalidTransition.Message, cur.Status, c.to))
	}

	patch := c.patch
	to := c.to
	patch.Status = &to
	if c.action != "" {
		patch.AppendHistory = append(patch.AppendHistory, domain.NewHistoryEntry(c.action, c.result))
	}

	job, err := o.deps.Jobs.Upsert(ctx, jobID, patch)
	if err != nil {
		return nil, err
	}
	o.logger.Info("job transition", "job_id", jobID, "from", cur.Status, "to", c.to, "action", c.action)
	o.publish(job)
	return job, nil
}

// fail moves a job to failed with a reason. when guards the source status.
func (o *Orchestrator) fail(jobID, reason string, when func(domain.JobStatus) bool, patch domain.JobPatch) {
	patch.Reason = &reason
	_, err := o.updateStatus(jobID, change{
		to:     domain.JobFailed,
		patch:  patch,
		action: "failed",
		result: map[string]string{"reason": reason},
		when:   when,
	})
	switch {
	case err == nil:
		o.logger.Warn("job failed", "job_id", jobID, "reason", reason)
	case err == errSkipped:
	default:
		o.logger.Error("record job failure", "job_id", jobID, "reason", reason, "error", err)
	}

	o.mu.Lock()
	rt := o.runtimes[jobID]
	o.mu.Unlock()
	if rt != nil && rt.sessionID != "" && err == nil {
		o.deps.Sessions.ClearIdleHandler(rt.sessionID)
	}
}

// bind attaches a session to a job's runtime, creating the runtime if needed.
func (o *Orchestrator) bind(jobID, sessionID string) (*jobRuntime, error) {
	if err := o.reclaim(jobID, sessionID); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, domain.ErrOrchestratorDown
	}
	if other, ok := o.bySession[sessionID]; ok && other != jobID {
		return nil, domain.NewEngineError(domain.ErrJobBusy.Code,
			fmt.Sprintf("session %s is bound to job %s", sessionID, other))
	}
	rt, ok := o.runtimes[jobID]
	if !ok {
		rt = &jobRuntime{}
		o.runtimes[jobID] = rt
	}
	if rt.advancing {
		return nil, domain.ErrJobBusy
	}
	if rt.sessionID != "" && rt.sessionID != sessionID {
		delete(o.bySession, rt.sessionID)
	}
	rt.sessionID = sessionID
	rt.sessionExited = false
	rt.exitCode = 0
	if sessionID != "" {
		o.bySession[sessionID] = jobID
	}
	return rt, nil
}

// reclaim detaches sessionID from the job holding it when that job is
// failed or waiting for approval and has no round in flight. The previous
// owner keeps its runtime but no longer has a session.
func (o *Orchestrator) reclaim(jobID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	o.mu.Lock()
	owner, ok := o.bySession[sessionID]
	o.mu.Unlock()
	if !ok || owner == jobID {
		return nil
	}

	busy := domain.NewEngineError(domain.ErrJobBusy.Code,
		fmt.Sprintf("session %s is bound to job %s", sessionID, owner))
	prev, err := o.deps.Jobs.Get(context.Background(), owner)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
	case err != nil:
		return err
	case prev.Status != domain.JobFailed && prev.Status != domain.JobWaitingApproval:
		return busy
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bySession[sessionID] != owner {
		return nil
	}
	rt := o.runtimes[owner]
	if rt != nil && rt.advancing {
		return busy
	}
	delete(o.bySession, sessionID)
	if rt != nil && rt.sessionID == sessionID {
		rt.sessionID = ""
		rt.sessionExited = false
		rt.exitCode = 0
	}
	o.logger.Info("session reassigned", "session_id", sessionID, "from_job", owner, "to_job", jobID)
	return nil
}

// release forgets a job's runtime once it no longer needs its session.
func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rt, ok := o.runtimes[jobID]
	if !ok {
		return
	}
	if rt.sessionID != "" && o.bySession[rt.sessionID] == jobID {
		delete(o.bySession, rt.sessionID)
	}
	delete(o.runtimes, jobID)
}

func (o *Orchestrator) idleHandler(jobID string) func(string) {
	return func(sessionID string) {
		if err := o.trigger(jobID, o.afterIdle); err != nil {
			o.logger.Debug("idle signal ignored", "job_id", jobID, "session_id", sessionID, "error", err)
		}
	}
}

// begin marks a round in flight for jobID. The returned done func must be
// called exactly once when the round ends.
func (o *Orchestrator) begin(jobID string) (*jobRuntime, context.Context, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, nil, nil, domain.ErrOrchestratorDown
	}
	rt, ok := o.runtimes[jobID]
	if !ok {
		return nil, nil, nil, domain.ErrJobNotBound
	}
	if rt.advancing {
		return nil, nil, nil, domain.ErrJobBusy
	}
	rt.advancing = true
	ctx, cancel := context.WithCancel(o.base)
	rt.cancel = cancel
	o.wg.Add(1)

	var once sync.Once
	done := func() {
		once.Do(func() {
			cancel()
			o.mu.Lock()
			rt.advancing = false
			rt.cancel = nil
			o.mu.Unlock()
			o.wg.Done()
		})
	}
	return rt, ctx, done, nil
}

// trigger runs one round in the background.
func (o *Orchestrator) trigger(jobID string, round func(ctx context.Context, jobID string, rt *jobRuntime)) error {
	rt, ctx, done, err := o.begin(jobID)
	if err != nil {
		return err
	}
	go func() {
		defer done()
		round(ctx, jobID, rt)
	}()
	return nil
}

// session returns the runtime's bound session and whether it has exited.
func (o *Orchestrator) session(rt *jobRuntime) (id string, exited bool, code int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return rt.sessionID, rt.sessionExited, rt.exitCode
}

// Watch consumes session events until ctx is done or the channel closes,
// failing jobs whose session exits while the agent is working.
func (o *Orchestrator) Watch(ctx context.Context, events <-chan SessionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch {
			case ev.Exited:
				o.HandleSessionExit(ev.SessionID, ev.ExitCode, ev.Terminated)
			case ev.Err != nil:
				o.logger.Warn("session error", "session_id", ev.SessionID, "error", ev.Err)
			}
		}
	}
}

// SessionEvent is the orchestrator's view of a session lifecycle event.
type SessionEvent struct {
	SessionID  string
	Exited     bool
	ExitCode   int
	Terminated bool
	Err        error
}

// HandleSessionExit reacts to the bound session of a job exiting. Any exit
// code fails a job whose agent is running or fixing. During a pipeline
// round the exit is remembered and the round fails instead of fixing.
func (o *Orchestrator) HandleSessionExit(sessionID string, exitCode int, terminated bool) {
	o.mu.Lock()
	jobID, ok := o.bySession[sessionID]
	var rt *jobRuntime
	if ok {
		delete(o.bySession, sessionID)
		rt = o.runtimes[jobID]
		if rt != nil {
			rt.sessionExited = true
			rt.exitCode = exitCode
		}
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	reason := fmt.Sprintf("Session exited with code %d", exitCode)
	if terminated {
		reason = fmt.Sprintf("Session terminated (exit code %d)", exitCode)
	}
	o.fail(jobID, reason, domain.JobStatus.AwaitsAgent, domain.JobPatch{})
}

// Close cancels in-flight rounds, waits for them to finish and closes all
// subscriptions.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.stop()
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}
