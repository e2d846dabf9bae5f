package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store opens booking transactions and serves lock-free reads. The pgx
// implementation is the production store; the in-memory implementation backs
// tests and demo mode.
type Store interface {
	// Begin opens a booking transaction.
	Begin(ctx context.Context) (Tx, error)

	// GetAppointment loads one appointment scoped to the tenant.
	GetAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID) (*Appointment, error)

	// ListActive returns the practitioner's appointments that still block the
	// timeline. Outside a transaction this is an eventually-consistent snapshot.
	ListActive(ctx context.Context, tenantID, practitionerID uuid.UUID) ([]Appointment, error)

	// ListSchedule returns non-cancelled appointments intersecting [from, to),
	// ordered by start time ascending.
	ListSchedule(ctx context.Context, tenantID, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error)
}

// Tx is a single booking unit of work. Callers must finish with Commit or
// Rollback; Rollback after Commit is a no-op so it can be deferred.
type Tx interface {
	// LockPractitioner takes the row-level exclusive lock that serializes all
	// booking attempts for one practitioner. Returns a not-found failure when
	// the practitioner does not exist in the tenant.
	LockPractitioner(ctx context.Context, tenantID, practitionerID uuid.UUID) error

	// ListActive re-reads the practitioner's blocking appointments inside the
	// transaction. Must be called after LockPractitioner so it observes writes
	// committed by a just-released concurrent transaction.
	ListActive(ctx context.Context, tenantID, practitionerID uuid.UUID) ([]Appointment, error)

	// InsertAppointment writes a new appointment row.
	InsertAppointment(ctx context.Context, appt *Appointment) error

	// RescheduleAppointment moves an appointment to a new interval, increments
	// its reschedule count and sets originalScheduledAt on first reschedule
	// only. Only scheduled and confirmed rows move; the state is re-checked
	// here, under the lock, so a concurrently cancelled appointment reports a
	// validation failure instead of being revived. Missing rows are a
	// not-found failure.
	RescheduleAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, newStart, newEnd time.Time, updatedBy uuid.UUID) (*Appointment, error)

	// CancelAppointment conditionally cancels: succeeds only when the current
	// status is neither completed nor cancelled. Returns false, not an error,
	// when the precondition fails.
	CancelAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, reason string, updatedBy uuid.UUID) (bool, error)

	// ConfirmAppointment moves scheduled -> confirmed. Returns false when the
	// appointment is already confirmed or in a later state.
	ConfirmAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, confirmedBy uuid.UUID) (bool, error)

	// GetAppointment loads one appointment inside the transaction.
	GetAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID) (*Appointment, error)

	// CancelPendingReminders moves every pending reminder of the appointment
	// to cancelled. Superseded reminders are kept, never deleted.
	CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID) (int64, error)

	// InsertReminders persists derived reminder specs as pending rows.
	InsertReminders(ctx context.Context, appointmentID uuid.UUID, specs []ReminderSpec) ([]Reminder, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
