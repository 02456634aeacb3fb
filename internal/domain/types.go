// Package domain defines the core types for the agent coding loop.
package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the state-machine state of a job.
type JobStatus string

const (
	JobIdle            JobStatus = "idle"
	JobRunning         JobStatus = "running"
	JobVerifying       JobStatus = "verifying"
	JobSnapshotting    JobStatus = "snapshotting"
	JobReviewing       JobStatus = "reviewing"
	JobFixing          JobStatus = "fixing"
	JobWaitingApproval JobStatus = "waiting_approval"
	JobCompleted       JobStatus = "completed"
	JobFailed          JobStatus = "failed"
)

// AllJobStatuses lists every valid status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobIdle, JobRunning, JobVerifying, JobSnapshotting, JobReviewing,
	JobFixing, JobWaitingApproval, JobCompleted, JobFailed,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	for _, v := range AllJobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves s.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// AwaitsAgent reports whether the job is waiting on the coding agent to go quiet.
func (s JobStatus) AwaitsAgent() bool {
	return s == JobRunning || s == JobFixing
}

// InPipeline reports whether a Verify/Snapshot/Review phase is in flight.
func (s JobStatus) InPipeline() bool {
	return s == JobVerifying || s == JobSnapshotting || s == JobReviewing
}

// HistoryEntry is one append-only record of a job action.
type HistoryEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Action    string          `json:"action"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// NewHistoryEntry marshals result into a history entry stamped now.
// A result that cannot be marshalled is recorded as its error string.
func NewHistoryEntry(action string, result any) HistoryEntry {
	entry := HistoryEntry{Timestamp: time.Now().UTC(), Action: action}
	if result == nil {
		return entry
	}
	raw, err := json.Marshal(result)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	entry.Result = raw
	return entry
}

// Job is one unit of agent-driven work.
type Job struct {
	ID               string         `json:"id"`
	Description      string         `json:"description"`
	Status           JobStatus      `json:"status"`
	Workspace        string         `json:"workspace"`
	SessionID        string         `json:"session_id,omitempty"`
	History          []HistoryEntry `json:"history"`
	LatestSnapshotID string         `json:"latest_snapshot_id,omitempty"`
	LastReview       *ReviewResult  `json:"last_review,omitempty"`
	AutoFixCount     int            `json:"auto_fix_count"`
	Reason           string         `json:"reason,omitempty"`
	Version          int64          `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// JobPatch carries the fields of a partial upsert. Nil pointers leave the
// stored value unchanged; AppendHistory entries are appended in order.
type JobPatch struct {
	Description      *string
	Status           *JobStatus
	Workspace        *string
	SessionID        *string
	LatestSnapshotID *string
	LastReview       *ReviewResult
	ClearReview      bool
	AutoFixCount     *int
	Reason           *string
	AppendHistory    []HistoryEntry
}

// JobUpdate is published to subscribers on every job transition.
type JobUpdate struct {
	JobID string `json:"job_id"`
	Job   Job    `json:"job"`
}

// Decision is the reviewer's verdict.
type Decision string

const (
	DecisionBlock     Decision = "BLOCK"
	DecisionImprove   Decision = "IMPROVE"
	DecisionApprove   Decision = "APPROVE"
	DecisionExcellent Decision = "EXCELLENT"
)

// CapabilityLevel describes how much of a contract is satisfied.
type CapabilityLevel string

const (
	LevelNone    CapabilityLevel = "none"
	LevelMinimum CapabilityLevel = "minimum"
	LevelMiddle  CapabilityLevel = "middle"
	LevelMaximum CapabilityLevel = "maximum"
)

// Severity ranks a review issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// RiskLevel is one axis value of a risk rating.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Issue is a problem found during review.
type Issue struct {
	Severity     Severity `json:"severity"`
	Title        string   `json:"title"`
	Evidence     string   `json:"evidence"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// RiskRating is the three-axis risk assessment of a change.
type RiskRating struct {
	Security        RiskLevel `json:"security"`
	Correctness     RiskLevel `json:"correctness"`
	Maintainability RiskLevel `json:"maintainability"`
}

// UnmetRequirements lists contract requirement names not yet met, per level.
type UnmetRequirements struct {
	Minimum []string `json:"minimum"`
	Middle  []string `json:"middle"`
	Maximum []string `json:"maximum"`
}

// ReviewResult is the structured output of a reviewer.
type ReviewResult struct {
	Decision      Decision          `json:"decision"`
	AchievedLevel CapabilityLevel   `json:"achieved_level"`
	Summary       string            `json:"summary"`
	Unmet         UnmetRequirements `json:"unmet"`
	Issues        []Issue           `json:"issues"`
	Risk          RiskRating        `json:"risk"`
}

// VerifyResult is the outcome of running an allow-listed verify command.
// A non-zero exit is informative, not an error.
type VerifyResult struct {
	Success    bool   `json:"success"`
	Profile    string `json:"profile"`
	ExitCode   int    `json:"exit_code"`
	StdoutTail string `json:"stdout_tail"`
	StderrTail string `json:"stderr_tail"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// SnapshotRequest asks the snapshot writer to capture a workspace.
type SnapshotRequest struct {
	Workspace string
	JobID     string
	SessionID string
	Intent    string
}

// SnapshotResult identifies a captured snapshot.
type SnapshotResult struct {
	SnapshotID string `json:"snapshot_id"`
	Summary    string `json:"summary"`
}

// Snapshot is the stored index record of a captured snapshot.
type Snapshot struct {
	ID        string
	JobID     string
	Dir       string
	Intent    string
	Summary   string
	Checksum  string
	CreatedAt int64
}

// ReviewRequest asks a reviewer to score a snapshot.
type ReviewRequest struct {
	JobID      string
	SnapshotID string
	Credential string
}

// ReviewRecord is a persisted review result.
type ReviewRecord struct {
	ID         string       `json:"id"`
	JobID      string       `json:"job_id"`
	SnapshotID string       `json:"snapshot_id"`
	Reviewer   string       `json:"reviewer"`
	Result     ReviewResult `json:"result"`
	CreatedAt  int64        `json:"created_at"`
}

// AuditRecord logs operator actions and session lifecycle events.
type AuditRecord struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id,omitempty"`
	Category    string `json:"category"`
	Actor       string `json:"actor"`
	Action      string `json:"action"`
	RequestJSON string `json:"request"`
	Severity    string `json:"severity"`
	CreatedAt   int64  `json:"created_at"`
}

// SessionMetrics are the mutable counters of a session.
type SessionMetrics struct {
	PID          int       `json:"pid"`
	SpawnedAt    time.Time `json:"spawned_at"`
	BytesRead    int64     `json:"bytes_read"`
	LastOutputAt time.Time `json:"last_output_at"`
}

// SessionInfo describes a live session.
type SessionInfo struct {
	ID        string         `json:"id"`
	Workspace string         `json:"workspace"`
	Metrics   SessionMetrics `json:"metrics"`
}
