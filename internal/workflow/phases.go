package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/review"
)

// bounded runs call with a deadline. The call's context is cancelled when
// the deadline passes or the round is cancelled; a call that ignores its
// context is abandoned.
func bounded[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := call(ctx)
		ch <- outcome{v, err}
	}()

	var zero T
	select {
	case out := <-ch:
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, domain.WrapEngineError(domain.ErrPhaseTimeout.Code, domain.ErrPhaseTimeout.Message, out.err)
		}
		return out.val, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, domain.WrapEngineError(domain.ErrPhaseTimeout.Code, domain.ErrPhaseTimeout.Message, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

// phaseReason renders a phase error as a job failure reason.
func phaseReason(phase string, timeout time.Duration, err error) string {
	switch {
	case errors.Is(err, domain.ErrPhaseTimeout):
		return fmt.Sprintf("%s timed out after %s", phase, timeout)
	case errors.Is(err, context.Canceled):
		return phase + " cancelled"
	default:
		return fmt.Sprintf("%s failed: %v", phase, err)
	}
}

func is(statuses ...domain.JobStatus) func(domain.JobStatus) bool {
	return func(s domain.JobStatus) bool {
		for _, want := range statuses {
			if s == want {
				return true
			}
		}
		return false
	}
}

// afterIdle handles a quiescence signal: stop listening, let the agent's
// last writes land, then run the pipeline.
func (o *Orchestrator) afterIdle(ctx context.Context, jobID string, rt *jobRuntime) {
	sid, _, _ := o.session(rt)
	if sid != "" {
		o.deps.Sessions.ClearIdleHandler(sid)
	}

	if o.cfg.SettleDelay > 0 {
		t := time.NewTimer(o.cfg.SettleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	_, err := o.updateStatus(jobID, change{
		to:     domain.JobVerifying,
		action: "idle",
		result: map[string]string{"session_id": sid},
		when:   domain.JobStatus.AwaitsAgent,
	})
	if err != nil {
		o.abort(jobID, err)
		return
	}
	o.runPhases(ctx, jobID, rt)
}

// abort handles an error from a pipeline transition.
func (o *Orchestrator) abort(jobID string, err error) {
	if errors.Is(err, errSkipped) {
		o.logger.Debug("round stopped, job moved on", "job_id", jobID)
		return
	}
	o.logger.Error("job transition failed", "job_id", jobID, "error", err)
	o.fail(jobID, fmt.Sprintf("Internal error: %v", err), domain.JobStatus.InPipeline, domain.JobPatch{})
}

// runPhases performs Verify, Snapshot and Review for a job that is already
// verifying, then applies the review decision. Every failure ends in a
// persisted failed job.
func (o *Orchestrator) runPhases(ctx context.Context, jobID string, rt *jobRuntime) {
	job, err := o.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		o.abort(jobID, err)
		return
	}
	sid, _, _ := o.session(rt)

	vres, err := bounded(ctx, o.cfg.VerifyTimeout, func(ctx context.Context) (domain.VerifyResult, error) {
		return o.deps.Verifier.Verify(ctx, job.Workspace, o.cfg.VerifyProfile)
	})
	if err != nil {
		o.fail(jobID, phaseReason("Verify", o.cfg.VerifyTimeout, err), is(domain.JobVerifying), domain.JobPatch{})
		return
	}
	o.logger.Info("verify finished", "job_id", jobID, "profile", vres.Profile, "success", vres.Success, "exit_code", vres.ExitCode)
	if _, err := o.updateStatus(jobID, change{
		to:     domain.JobSnapshotting,
		action: "verify",
		result: vres,
		when:   is(domain.JobVerifying),
	}); err != nil {
		o.abort(jobID, err)
		return
	}

	sres, err := bounded(ctx, o.cfg.SnapshotTimeout, func(ctx context.Context) (domain.SnapshotResult, error) {
		return o.deps.Snapshots.CreateSnapshot(ctx, domain.SnapshotRequest{
			Workspace: job.Workspace,
			JobID:     jobID,
			SessionID: sid,
			Intent:    job.Description,
		})
	})
	if err == nil && sres.SnapshotID == "" {
		err = errors.New("snapshot writer returned no id")
	}
	if err != nil {
		o.fail(jobID, phaseReason("Snapshot", o.cfg.SnapshotTimeout, err), is(domain.JobSnapshotting), domain.JobPatch{})
		return
	}

	snapID := sres.SnapshotID
	next := domain.JobReviewing
	if !o.ReviewerConfigured() {
		next = domain.JobWaitingApproval
	}
	job, err = o.updateStatus(jobID, change{
		to:     next,
		patch:  domain.JobPatch{LatestSnapshotID: &snapID},
		action: "snapshot",
		result: sres,
		when:   is(domain.JobSnapshotting),
	})
	if err != nil {
		o.abort(jobID, err)
		return
	}
	if next == domain.JobWaitingApproval {
		o.logger.Info("no reviewer configured, awaiting approval", "job_id", jobID, "snapshot_id", snapID)
		return
	}

	result, err := bounded(ctx, o.cfg.ReviewTimeout, func(ctx context.Context) (domain.ReviewResult, error) {
		return o.deps.Reviewer.Review(ctx, domain.ReviewRequest{
			JobID:      jobID,
			SnapshotID: snapID,
			Credential: o.cfg.Credential,
		})
	})
	if err != nil {
		o.fail(jobID, phaseReason("Review", o.cfg.ReviewTimeout, err), is(domain.JobReviewing), domain.JobPatch{})
		return
	}
	o.applyDecision(jobID, rt, job, result)
}

// applyDecision carries out the gate's outcome for a reviewing job.
func (o *Orchestrator) applyDecision(jobID string, rt *jobRuntime, job *domain.Job, result domain.ReviewResult) {
	out := Decide(result.Decision, result.AchievedLevel, job.AutoFixCount, o.cfg.MaxAutoFix)
	reviewed := domain.NewHistoryEntry("review", result)
	o.logger.Info("review decided", "job_id", jobID, "decision", result.Decision,
		"level", result.AchievedLevel, "issues", len(result.Issues), "next", out.Next)

	switch out.Next {
	case domain.JobCompleted:
		_, err := o.updateStatus(jobID, change{
			to:     domain.JobCompleted,
			patch:  domain.JobPatch{LastReview: &result},
			action: "review",
			result: result,
			when:   is(domain.JobReviewing),
		})
		if err != nil {
			o.abort(jobID, err)
			return
		}
		o.finish(jobID)

	case domain.JobFixing:
		sid, exited, code := o.session(rt)
		patch := domain.JobPatch{LastReview: &result, AppendHistory: []domain.HistoryEntry{reviewed}}
		if exited {
			o.fail(jobID, fmt.Sprintf("Session exited with code %d before fixes could be sent", code), is(domain.JobReviewing), patch)
			return
		}
		if sid == "" {
			o.fail(jobID, "No session bound to receive fixes", is(domain.JobReviewing), patch)
			return
		}
		prompt := review.ComposeFixPrompt(result)
		if err := o.deps.Sessions.Write(sid, []byte(prompt+"\r")); err != nil {
			o.fail(jobID, fmt.Sprintf("Fix prompt delivery failed: %v", err), is(domain.JobReviewing), patch)
			return
		}
		count := job.AutoFixCount + 1
		_, err := o.updateStatus(jobID, change{
			to:     domain.JobFixing,
			patch:  domain.JobPatch{LastReview: &result, AutoFixCount: &count},
			action: "review",
			result: result,
			when:   is(domain.JobReviewing),
		})
		if err != nil {
			o.abort(jobID, err)
			return
		}
		o.listen(jobID, sid)

	default:
		reason := out.Reason
		if result.Decision == domain.DecisionBlock {
			reason = ReasonBlocked + ": " + review.BlockSummary(result)
		}
		o.fail(jobID, reason, is(domain.JobReviewing), domain.JobPatch{
			LastReview:    &result,
			AppendHistory: []domain.HistoryEntry{reviewed},
		})
	}
}

// listen registers the job's idle handler on its session. A session that
// vanished in the meantime fails the job.
func (o *Orchestrator) listen(jobID, sessionID string) {
	if err := o.deps.Sessions.SetIdleHandler(sessionID, o.idleHandler(jobID)); err != nil {
		o.fail(jobID, fmt.Sprintf("Session %s is gone: %v", sessionID, err), domain.JobStatus.AwaitsAgent, domain.JobPatch{})
	}
}

// finish drops a completed job's runtime and stops listening on its session.
func (o *Orchestrator) finish(jobID string) {
	o.mu.Lock()
	rt := o.runtimes[jobID]
	o.mu.Unlock()
	if rt != nil {
		if sid, _, _ := o.session(rt); sid != "" {
			o.deps.Sessions.ClearIdleHandler(sid)
		}
	}
	o.release(jobID)
}
