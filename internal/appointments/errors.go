package appointments

import (
	"errors"
	"fmt"
)

// FailureReason discriminates booking failures so callers can tell
// "pick another slot" from "retry later".
type FailureReason string

const (
	ReasonValidation FailureReason = "validation"
	ReasonConflict   FailureReason = "conflict"
	ReasonNotFound   FailureReason = "not_found"
	ReasonSystem     FailureReason = "system"
)

// BookingError is the structured failure returned by booking operations.
// Conflict and validation failures are expected outcomes, not faults; they
// are returned as values and carry enough detail for the caller to act.
type BookingError struct {
	Reason    FailureReason
	Message   string
	Conflicts []Appointment
	Err       error
}

func (e *BookingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("appointments: %s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("appointments: %s: %s", e.Reason, e.Message)
}

func (e *BookingError) Unwrap() error {
	return e.Err
}

// NewValidationError reports malformed input.
func NewValidationError(format string, args ...any) *BookingError {
	return &BookingError{Reason: ReasonValidation, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError reports an interval collision with the full conflict list.
func NewConflictError(conflicts []Appointment) *BookingError {
	return &BookingError{
		Reason:    ReasonConflict,
		Message:   fmt.Sprintf("requested interval overlaps %d existing appointment(s)", len(conflicts)),
		Conflicts: conflicts,
	}
}

// NewNotFoundError reports a missing appointment or practitioner.
func NewNotFoundError(format string, args ...any) *BookingError {
	return &BookingError{Reason: ReasonNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewSystemError wraps a transaction or connection failure without leaking
// internal detail into the message.
func NewSystemError(err error) *BookingError {
	return &BookingError{Reason: ReasonSystem, Message: "booking operation failed", Err: err}
}

// ReasonOf extracts the failure reason from err, or ReasonSystem for
// unclassified errors.
func ReasonOf(err error) FailureReason {
	var be *BookingError
	if errors.As(err, &be) {
		return be.Reason
	}
	return ReasonSystem
}

// IsConflict reports whether err is a business-level slot collision.
func IsConflict(err error) bool {
	return ReasonOf(err) == ReasonConflict
}

// IsValidation reports whether err is a malformed-input failure.
func IsValidation(err error) bool {
	return ReasonOf(err) == ReasonValidation
}

// IsNotFound reports whether err refers to a missing entity.
func IsNotFound(err error) bool {
	return ReasonOf(err) == ReasonNotFound
}

// ConflictsOf returns the colliding appointments carried by a conflict error.
func ConflictsOf(err error) []Appointment {
	var be *BookingError
	if errors.As(err, &be) && be.Reason == ReasonConflict {
		return be.Conflicts
	}
	return nil
}
