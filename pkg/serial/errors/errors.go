package errors

import (
	"errors"
	"fmt"
)

// Error classes for the generation pipeline
var (
	// ErrWorkNotFound indicates the requested work has no stored state
	ErrWorkNotFound = errors.New("work not found")

	// ErrNoAction indicates the decision engine found no valid action
	ErrNoAction = errors.New("no valid action available")

	// ErrBudgetExhausted indicates no affordable action remains this session
	ErrBudgetExhausted = errors.New("generation budget exhausted")

	// ErrGenerationFailed indicates the generator call failed or timed out
	ErrGenerationFailed = errors.New("generator call failed")

	// ErrUnparsableOutput indicates generator output could not be parsed
	ErrUnparsableOutput = errors.New("generator output unparsable")

	// ErrPacingViolation indicates a candidate broke stage constraints
	ErrPacingViolation = errors.New("pacing violation")

	// ErrQualityThreshold indicates the composite score never cleared the floor
	ErrQualityThreshold = errors.New("quality threshold not met")

	// ErrOrdinalMismatch indicates a commit with a non-consecutive chapter number
	ErrOrdinalMismatch = errors.New("chapter ordinal mismatch")

	// ErrSchemaViolation indicates a document failed schema validation
	ErrSchemaViolation = errors.New("document schema violation")

	// ErrStableTraitMutation indicates generation output tried to rewrite
	// a character's stable traits
	ErrStableTraitMutation = errors.New("stable character trait mutation")

	// ErrWorkComplete indicates a commit was attempted against a completed work
	ErrWorkComplete = errors.New("work already complete")
)

// StageError represents an error that occurred in a named pipeline stage
type StageError struct {
	Stage   string
	Err     error
	Retry   bool
	Details map[string]interface{}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) CanRetry() bool {
	return e.Retry
}

// NewStageError creates a new stage error
func NewStageError(stage string, err error, canRetry bool) *StageError {
	return &StageError{
		Stage:   stage,
		Err:     err,
		Retry:   canRetry,
		Details: make(map[string]interface{}),
	}
}

// IsRetryable reports whether a run may retry after this error.
// Decision and persistence errors are fatal for the current run;
// generation and pacing errors feed the bounded retry loop.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrNoAction),
		errors.Is(err, ErrBudgetExhausted),
		errors.Is(err, ErrOrdinalMismatch),
		errors.Is(err, ErrSchemaViolation),
		errors.Is(err, ErrStableTraitMutation),
		errors.Is(err, ErrWorkComplete),
		errors.Is(err, ErrWorkNotFound):
		return false
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.CanRetry()
	}

	return errors.Is(err, ErrGenerationFailed) ||
		errors.Is(err, ErrUnparsableOutput) ||
		errors.Is(err, ErrPacingViolation)
}

// IsFatal reports whether the error must be surfaced to the trigger caller
// rather than absorbed by a retry or recovery path.
func IsFatal(err error) bool {
	return err != nil && !IsRetryable(err) && !errors.Is(err, ErrQualityThreshold)
}
