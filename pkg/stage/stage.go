// Package stage implements the Reference lifecycle state machine: a single
// integer Stage type with an explicit transition table, so an invalid
// transition is caught in Go before it ever reaches the Index Store.
package stage

import "fmt"

// Stage is the lifecycle position of a Reference. Values 0-599 are ordinary
// progress points; the sentinel values below stand in for the well-known
// terminal/retry states described in the data model.
type Stage int

const (
	// StageUnknown is the zero value; never persisted.
	StageUnknown Stage = 0

	StageReceived          Stage = 100
	StageLeased            Stage = 110
	StageAcquired          Stage = 150
	StageSidecarWritten    Stage = 190
	StageVerified          Stage = 250
	StageStored            Stage = 390
	StagePostProcessed     Stage = 490
	StageFinalized         Stage = 590
	StageDuplicate         Stage = 599

	// Sub-stage failure markers. Real deployments may carve out additional
	// values in the 1x0/2x0 family; these two are the ones the engine
	// itself transitions through.
	StageLeaseFailed    Stage = 130
	StageVerifyFailed   Stage = 230

	// Sentinels, encoded as negative so they never collide with the 0-599
	// numeric range or a future sub-stage.
	StageRateLimited    Stage = -1
	StagePermanentError Stage = -2
	StageSystemError    Stage = -3
)

func (s Stage) String() string {
	switch s {
	case StageUnknown:
		return "unknown"
	case StageReceived:
		return "received"
	case StageLeased:
		return "leased"
	case StageAcquired:
		return "acquired"
	case StageSidecarWritten:
		return "sidecar_written"
	case StageVerified:
		return "verified"
	case StageStored:
		return "stored"
	case StagePostProcessed:
		return "post_processed"
	case StageFinalized:
		return "finalized"
	case StageDuplicate:
		return "duplicate"
	case StageLeaseFailed:
		return "lease_failed"
	case StageVerifyFailed:
		return "verify_failed"
	case StageRateLimited:
		return "rate_limited"
	case StagePermanentError:
		return "permanent_error"
	case StageSystemError:
		return "system_error"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// IsTerminalGood reports whether s satisfies "terminal-good": eligible to
// satisfy deduplication against future enqueues of the same canonical_url.
func (s Stage) IsTerminalGood() bool {
	return s >= StageFinalized
}

// IsSentinel reports whether s is one of the well-known non-numeric states.
func (s Stage) IsSentinel() bool {
	return s == StageRateLimited || s == StagePermanentError || s == StageSystemError
}

// transitions is the adjacency table: which stages a Reference may move to
// from a given stage. Dead-letter-to-pending resurrection (explicit operator
// action) is modeled separately in Allow, not in this table, since it is not
// a transition a worker ever performs on its own.
var transitions = map[Stage][]Stage{
	StageReceived:       {StageLeased, StageDuplicate, StageRateLimited, StagePermanentError, StageSystemError},
	StageLeased:         {StageAcquired, StageLeaseFailed, StageRateLimited, StagePermanentError, StageSystemError},
	StageLeaseFailed:    {StageReceived, StagePermanentError},
	StageAcquired:       {StageSidecarWritten, StageVerifyFailed, StageRateLimited, StagePermanentError, StageSystemError},
	StageSidecarWritten: {StageVerified, StagePermanentError, StageSystemError},
	StageVerifyFailed:   {StageReceived, StagePermanentError},
	StageVerified:       {StageStored, StagePermanentError, StageSystemError},
	StageStored:         {StagePostProcessed},
	StagePostProcessed:  {StageFinalized},
	StageRateLimited:    {StageReceived, StagePermanentError},
}

// Allow reports whether transitioning from `from` to `to` is legal. A
// dead-letter resurrection (from == StagePermanentError, any to) is always
// allowed since it represents an explicit operator action outside the
// ordinary worker-driven state machine.
func Allow(from, to Stage) bool {
	if from == StagePermanentError {
		return true
	}
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// LegacyStageMap maps pre-migration sub-stage values to a current Stage. It
// is empty for a greenfield deployment; a migration tool populates it when
// importing data carrying an older schema_version.
var LegacyStageMap = map[int]Stage{}
