package domain

import "fmt"

// EngineError is the unified error type for the agent loop.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("agentloop error %d: %s", e.Code, e.Message)
}

// Is reports whether target carries the same code, so wrapped copies
// produced by WrapEngineError still match their sentinel.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Job / orchestrator errors (-32010 to -32039) ----

var (
	ErrInvalidTransition = &EngineError{Code: -32010, Message: "invalid job status transition"}
	ErrInvalidJob        = &EngineError{Code: -32011, Message: "invalid job request"}
	ErrJobNotFound       = &EngineError{Code: -32012, Message: "job not found"}
	ErrOptimisticLock    = &EngineError{Code: -32015, Message: "optimistic lock conflict: job was modified concurrently"}
	ErrInvalidStatus     = &EngineError{Code: -32016, Message: "invalid job status value"}
	ErrJobBusy           = &EngineError{Code: -32017, Message: "job is already advancing"}
	ErrJobNotBound       = &EngineError{Code: -32018, Message: "job has no bound session"}
	ErrDuplicateJob      = &EngineError{Code: -32019, Message: "job already exists"}
	ErrPhaseTimeout      = &EngineError{Code: -32020, Message: "phase timed out"}
	ErrOrchestratorDown  = &EngineError{Code: -32021, Message: "orchestrator is closed"}
)

// ---- Session errors (-32070 to -32099) ----

var (
	ErrSpawnFailed     = &EngineError{Code: -32070, Message: "failed to spawn session process"}
	ErrSessionNotFound = &EngineError{Code: -32074, Message: "session not found"}
	ErrNoActiveSession = &EngineError{Code: -32075, Message: "no active session"}
	ErrSessionWrite    = &EngineError{Code: -32076, Message: "session write failed"}
	ErrManagerClosed   = &EngineError{Code: -32077, Message: "session manager is closed"}
)

// ---- Verify / snapshot errors (-32100 to -32129) ----

var (
	ErrUnknownVerifyProfile = &EngineError{Code: -32100, Message: "verify profile is not in the allow-list"}
	ErrNoVerifyProfile      = &EngineError{Code: -32101, Message: "no verify profile detected for workspace"}
	ErrSnapshotFailed       = &EngineError{Code: -32102, Message: "snapshot capture failed"}
	ErrSnapshotNotFound     = &EngineError{Code: -32103, Message: "snapshot not found"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrSchemaMigration = &EngineError{Code: -32133, Message: "schema migration failed"}
	ErrSnapshotCorrupt = &EngineError{Code: -32134, Message: "snapshot checksum mismatch"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
)

// ---- Review errors (-32160 to -32189) ----

var (
	ErrReviewInvalid     = &EngineError{Code: -32160, Message: "review result validation failed"}
	ErrReviewerUnknown   = &EngineError{Code: -32161, Message: "reviewer is not registered"}
	ErrReviewerFailed    = &EngineError{Code: -32162, Message: "reviewer invocation failed"}
	ErrDuplicateReviewer = &EngineError{Code: -32163, Message: "reviewer already registered"}
)
