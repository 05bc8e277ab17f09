package services

import (
	"errors"
	"fmt"

	"cadence/models"
)

var (
	// ErrNotFound is returned when a record does not exist for the tenant
	ErrNotFound = errors.New("record not found")

	// ErrValidation is returned for malformed input, before any write
	ErrValidation = errors.New("validation failed")

	// ErrNoSteps is returned when an operation needs a cadence with steps
	ErrNoSteps = errors.New("cadence has no steps")

	// ErrDayGated is returned when a step's day is not live yet
	ErrDayGated = errors.New("step day is not available yet")

	// ErrStaleState is returned when a conditional write found the row changed
	ErrStaleState = errors.New("record changed concurrently")

	// ErrStepInUse is returned when deleting a step that pending schedules reference
	ErrStepInUse = errors.New("step is referenced by pending schedules")
)

// ChannelError is an outbound channel rejection or transport failure.
type ChannelError struct {
	StepType models.StepType
	LeadID   uint
	Reason   string
	Err      error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s send to lead %d failed: %v", e.StepType, e.LeadID, e.Err)
	}
	return fmt.Sprintf("%s send to lead %d failed: %s", e.StepType, e.LeadID, e.Reason)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(what string, id uint) error {
	return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
}
