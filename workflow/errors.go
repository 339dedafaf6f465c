package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateStage is returned by AddStage when the name is taken.
	ErrDuplicateStage = errors.New("duplicate stage")

	// ErrUnknownStage is returned by RemoveStage for names not in the workflow.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrRunInProgress is returned when the stage list is changed while a
	// run is in flight.
	ErrRunInProgress = errors.New("workflow run in progress")

	// ErrMissingContextKey matches every *MissingContextKeyError.
	ErrMissingContextKey = errors.New("missing context key")

	// ErrStageTimeout marks an attempt that exceeded the stage timeout.
	ErrStageTimeout = errors.New("stage timed out")

	ErrRunNotFound   = errors.New("run not found")
	ErrInvalidStage  = errors.New("invalid stage")
	ErrInvalidConfig = errors.New("invalid strategy")
)

// MissingContextKeyError reports a template placeholder with no value in
// the run context. It is never retried.
type MissingContextKeyError struct {
	Stage string
	Key   string
}

func (e *MissingContextKeyError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("missing context key %q", e.Key)
	}
	return fmt.Sprintf("stage %s: missing context key %q", e.Stage, e.Key)
}

// Is makes errors.Is(err, ErrMissingContextKey) true.
func (e *MissingContextKeyError) Is(target error) bool {
	return target == ErrMissingContextKey
}

// StageError is the terminal failure of a stage. Context holds the run
// context accumulated before the stage failed.
type StageError struct {
	Stage    string
	Status   StageStatus
	Attempts int
	Err      error
	Context  Context
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s %s after %d attempt(s): %v", e.Stage, e.Status, e.Attempts, e.Err)
}

// Unwrap returns the underlying cause
func (e *StageError) Unwrap() error {
	return e.Err
}
