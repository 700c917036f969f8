package pipeline

import (
	"errors"
	"fmt"
)

// Pipeline errors, grounded on internal/pipeline/core/errors.go's sentinel
// and wrapped-error shapes in the teacher.
var (
	// ErrNoAdapter indicates a source row has no registered adapter.
	ErrNoAdapter = errors.New("no source adapter registered for variant")

	// ErrSourceAlreadyRunning indicates a tick is already in flight for a
	// source (the per-source analogue of the teacher's per-proxy lock).
	ErrSourceAlreadyRunning = errors.New("pipeline already running for this source")

	// ErrCredentialExpired is a sentinel for an expired credential. No
	// stage returns it; the scheduler halts scheduling globally on a
	// *models.CredentialExpiredError, found with errors.As.
	ErrCredentialExpired = errors.New("credential expired")
)

// StageError wraps an error with stage context, mirroring the teacher's
// StageError so scheduler-level logging can report which stage failed.
type StageError struct {
	StageID string
	SourceKey string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (source %s): %v", e.StageID, e.SourceKey, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError.
func NewStageError(stageID, sourceKey string, err error) *StageError {
	return &StageError{StageID: stageID, SourceKey: sourceKey, Err: err}
}
