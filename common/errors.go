package common

import (
	"errors"
	"fmt"
)

// Class is the recoverability class of an error raised by a round stage.
type Class int

const (
	// ClassRecoverable errors are logged and the stage is retried.
	ClassRecoverable Class = iota
	// ClassUnavailable errors mean upstream evidence is gone (likely pruned).
	ClassUnavailable
	// ClassCritical errors terminate the process without persisting anything.
	ClassCritical
)

func (c Class) String() string {
	switch c {
	case ClassRecoverable:
		return "recoverable"
	case ClassUnavailable:
		return "unavailable"
	case ClassCritical:
		return "critical"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Stage names one step of a proving round.
type Stage string

const (
	StageStartup       Stage = "startup"
	StagePreprocessing Stage = "preprocessing"
	StageProving       Stage = "proving"
	StageRecursing     Stage = "recursing"
	StageWrapping      Stage = "wrapping"
	StagePersisting    Stage = "persisting"
)

var (
	// ErrNotYetAdvanced is returned when the remote head is not past the trusted checkpoint.
	ErrNotYetAdvanced = errors.New("remote head has not advanced past the trusted checkpoint")
	// ErrEvidenceUnavailable is returned when historical evidence no longer exists upstream.
	ErrEvidenceUnavailable = errors.New("required historical evidence is unavailable upstream")
	// ErrCheckpointPruned is the structural form of ErrEvidenceUnavailable once retries are exhausted.
	ErrCheckpointPruned = errors.New("trusted checkpoint can no longer advance, re-initialise from a newer genesis checkpoint")
	// ErrContinuity is returned when a round does not start where the previous round ended.
	ErrContinuity = errors.New("chain continuity violation")
	// ErrInvalidProof is returned when a produced proof fails verification.
	ErrInvalidProof = errors.New("invalid proof")
	// ErrArtifactMismatch is returned when a verifying key does not match the expected digest.
	ErrArtifactMismatch = errors.New("artifact verifying key mismatch")
	// ErrProverCrashed is returned when the proving program exits abnormally or panics.
	ErrProverCrashed = errors.New("prover crashed")
	// ErrProverTimeout is returned when the proving program exceeds its operational timeout.
	ErrProverTimeout = errors.New("prover timed out")
)

// StageError attaches a stage and class to an error.
type StageError struct {
	Stage Stage
	Class Class
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s error: %v", e.Stage, e.Class, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func classify(stage Stage, class Class, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) && se.Class >= class {
		// never downgrade: a critical error stays critical when re-wrapped
		return err
	}
	return &StageError{Stage: stage, Class: class, Err: err}
}

// Recoverable marks err as retryable at stage.
func Recoverable(stage Stage, err error) error { return classify(stage, ClassRecoverable, err) }

// Unavailable marks err as an upstream evidence loss at stage.
func Unavailable(stage Stage, err error) error { return classify(stage, ClassUnavailable, err) }

// Critical marks err as fatal at stage.
func Critical(stage Stage, err error) error { return classify(stage, ClassCritical, err) }

// ClassOf returns the class of err. Unclassified errors are critical,
// except the well-known recoverable and unavailable sentinels.
func ClassOf(err error) Class {
	var se *StageError
	if errors.As(err, &se) {
		return se.Class
	}
	switch {
	case errors.Is(err, ErrNotYetAdvanced), errors.Is(err, ErrProverTimeout):
		return ClassRecoverable
	case errors.Is(err, ErrEvidenceUnavailable):
		return ClassUnavailable
	}
	return ClassCritical
}

// StageOf returns the stage recorded on err, or empty.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// IsCritical is shorthand for ClassOf(err) == ClassCritical.
func IsCritical(err error) bool {
	return err != nil && ClassOf(err) == ClassCritical
}
