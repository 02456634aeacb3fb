package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/review"
)

func invalidAction(action string, status domain.JobStatus) error {
	return domain.NewEngineError(domain.ErrInvalidTransition.Code,
		fmt.Sprintf("cannot %s a job that is %s", action, status))
}

// StartJob binds a session to an idle or failed job, launches the agent in
// it, sends the job description and waits for the agent to go quiet.
// An empty sessionID selects the most recently created session.
func (o *Orchestrator) StartJob(ctx context.Context, jobID, sessionID string) (*domain.Job, error) {
	job, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !IsValidTransition(job.Status, domain.JobRunning) {
		return nil, invalidAction("start", job.Status)
	}

	if sessionID == "" {
		active, ok := o.deps.Sessions.Active()
		if !ok {
			return nil, domain.ErrNoActiveSession
		}
		sessionID = active
	} else if !o.deps.Sessions.Exists(sessionID) {
		return nil, domain.ErrSessionNotFound
	}

	if _, err := o.bind(jobID, sessionID); err != nil {
		return nil, err
	}
	launched, err := o.deps.Sessions.LaunchAgent(sessionID)
	if err != nil {
		o.release(jobID)
		return nil, err
	}

	zero := 0
	empty := ""
	job, err = o.updateStatus(jobID, change{
		to: domain.JobRunning,
		patch: domain.JobPatch{
			SessionID:    &sessionID,
			AutoFixCount: &zero,
			Reason:       &empty,
		},
		action: "started",
		result: map[string]any{"session_id": sessionID, "launched": launched},
		when:   is(domain.JobIdle, domain.JobFailed),
	})
	if err != nil {
		o.release(jobID)
		if err == errSkipped {
			return nil, invalidAction("start", job.Status)
		}
		return nil, err
	}

	if launched && o.cfg.PromptDelay > 0 {
		t := time.NewTimer(o.cfg.PromptDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			o.fail(jobID, "Start cancelled before the description was sent", domain.JobStatus.AwaitsAgent, domain.JobPatch{})
			return o.deps.Jobs.Get(context.Background(), jobID)
		}
	}
	if err := o.deps.Sessions.Write(sessionID, []byte(job.Description+"\r")); err != nil {
		o.fail(jobID, fmt.Sprintf("Failed to send job description: %v", err), domain.JobStatus.AwaitsAgent, domain.JobPatch{})
		return o.deps.Jobs.Get(ctx, jobID)
	}
	o.listen(jobID, sessionID)
	return job, nil
}

// Advance runs the pipeline for a running or fixing job without waiting for
// the idle signal.
func (o *Orchestrator) Advance(ctx context.Context, jobID string) error {
	job, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.AwaitsAgent() {
		return invalidAction("advance", job.Status)
	}
	return o.trigger(jobID, o.afterIdle)
}

// Approve completes a job waiting for approval.
func (o *Orchestrator) Approve(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.updateStatus(jobID, change{
		to:     domain.JobCompleted,
		action: "approved",
		when:   is(domain.JobWaitingApproval),
	})
	if err == errSkipped {
		return nil, invalidAction("approve", job.Status)
	}
	if err != nil {
		return nil, err
	}
	o.finish(jobID)
	return job, nil
}

// Fix sends instructions to the agent of a job waiting for approval or
// failed, and waits for it to go quiet again. Empty instructions resend
// the fix prompt of the last review. Manual fixes leave the auto-fix
// counter alone.
func (o *Orchestrator) Fix(ctx context.Context, jobID, instructions string) (*domain.Job, error) {
	job, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobWaitingApproval && job.Status != domain.JobFailed {
		return nil, invalidAction("fix", job.Status)
	}
	if strings.TrimSpace(instructions) == "" {
		if job.LastReview == nil {
			return nil, domain.NewEngineError(domain.ErrInvalidJob.Code, "instructions are required")
		}
		instructions = review.ComposeFixPrompt(*job.LastReview)
	}

	rt, err := o.runtimeFor(job)
	if err != nil {
		return nil, err
	}
	_, _, done, err := o.begin(jobID)
	if err != nil {
		return nil, err
	}
	defer done()

	// Checked inside the round so the session cannot be reassigned meanwhile.
	sid, exited, _ := o.session(rt)
	if sid == "" || exited || !o.deps.Sessions.Exists(sid) {
		return nil, domain.ErrJobNotBound
	}

	if err := o.deps.Sessions.Write(sid, []byte(instructions+"\r")); err != nil {
		return nil, err
	}
	empty := ""
	job, err = o.updateStatus(jobID, change{
		to:     domain.JobFixing,
		patch:  domain.JobPatch{Reason: &empty},
		action: "fix",
		result: map[string]string{"instructions": instructions},
		when:   is(domain.JobWaitingApproval, domain.JobFailed),
	})
	if err == errSkipped {
		return nil, invalidAction("fix", job.Status)
	}
	if err != nil {
		return nil, err
	}
	o.listen(jobID, sid)
	return job, nil
}

// Retry reruns Verify, Snapshot and Review for a job waiting for approval
// or failed, with the auto-fix counter reset. The pipeline runs in the
// background; the returned job is already verifying.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobWaitingApproval && job.Status != domain.JobFailed {
		return nil, invalidAction("retry", job.Status)
	}
	if _, err := o.runtimeFor(job); err != nil {
		return nil, err
	}

	rt, roundCtx, done, err := o.begin(jobID)
	if err != nil {
		return nil, err
	}
	zero := 0
	empty := ""
	job, err = o.updateStatus(jobID, change{
		to:     domain.JobVerifying,
		patch:  domain.JobPatch{AutoFixCount: &zero, Reason: &empty},
		action: "retry",
		when:   is(domain.JobWaitingApproval, domain.JobFailed),
	})
	if err != nil {
		done()
		if err == errSkipped {
			return nil, invalidAction("retry", job.Status)
		}
		return nil, err
	}

	go func() {
		defer done()
		o.runPhases(roundCtx, jobID, rt)
	}()
	return job, nil
}

// runtimeFor returns the job's runtime, rebinding the job's stored session
// when it is still live. A job without one gets an unbound runtime.
func (o *Orchestrator) runtimeFor(job *domain.Job) (*jobRuntime, error) {
	o.mu.Lock()
	rt, ok := o.runtimes[job.ID]
	o.mu.Unlock()
	if ok {
		return rt, nil
	}
	sid := ""
	if job.SessionID != "" && o.deps.Sessions.Exists(job.SessionID) {
		sid = job.SessionID
	}
	return o.bind(job.ID, sid)
}
