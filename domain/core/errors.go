package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Configuration errors abort before any trial starts
	ErrConfig        = errors.New("configuration error")
	ErrMetricMissing = fmt.Errorf("%w: metric missing", ErrConfig)

	// Invariant errors signal a programming defect inside one trial
	ErrInvariant   = errors.New("invariant violated")
	ErrDoubleGraft = fmt.Errorf("%w: fold already grafted", ErrInvariant)
	ErrFoldSubject = fmt.Errorf("%w: fold/subject mismatch", ErrInvariant)

	// Collaborator failures during fit or predict
	ErrTraining = errors.New("training failed")

	// Data integrity errors are fatal at sampling time
	ErrDataIntegrity = errors.New("data integrity violated")
	// An empty class group is bad input and an unsatisfiable fold count at once
	ErrEmptyClass    = fmt.Errorf("%w: %w: class group empty", ErrDataIntegrity, ErrConfig)
	ErrMixedLabels   = fmt.Errorf("%w: subject has examples of both classes", ErrDataIntegrity)
	ErrCorruptFolds  = fmt.Errorf("%w: fold file corrupt", ErrDataIntegrity)

	ErrNotFound = errors.New("resource not found")
)

// TrialError attaches the trial and increment indexes to a failure so an
// operator can find the partial record it belongs to. Trial is zero-based;
// the message numbers trials from 1 like the trial directories.
type TrialError struct {
	Trial     int
	Increment int
	Err       error
}

func (e *TrialError) Error() string {
	return fmt.Sprintf("trial %d increment %d: %v", e.Trial+1, e.Increment, e.Err)
}

func (e *TrialError) Unwrap() error {
	return e.Err
}

// Error constructors with context
func NewConfigError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrConfig, field, reason)
}

func NewMetricMissingError(metric string) error {
	return fmt.Errorf("%w: %q is bounded but was not computed", ErrMetricMissing, metric)
}

func NewInvariantError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvariant, reason)
}

func NewDataIntegrityError(reason string) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, reason)
}

func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

// NewTrainingError wraps a collaborator failure with the operation that failed
// and the position in the trial where it happened.
func NewTrainingError(trial, increment int, op string, cause error) error {
	return &TrialError{
		Trial:     trial,
		Increment: increment,
		Err:       fmt.Errorf("%w: %s: %w", ErrTraining, op, cause),
	}
}

// WithTrialContext annotates err with its trial position unless it already
// carries one.
func WithTrialContext(err error, trial, increment int) error {
	if err == nil {
		return nil
	}
	var te *TrialError
	if errors.As(err, &te) {
		return err
	}
	return &TrialError{Trial: trial, Increment: increment, Err: err}
}

// Error checking helpers
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}

func IsInvariantError(err error) bool {
	return errors.Is(err, ErrInvariant)
}

func IsTrainingError(err error) bool {
	return errors.Is(err, ErrTraining)
}

func IsDataIntegrityError(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
