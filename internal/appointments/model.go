// Package appointments implements the booking engine: conflict detection,
// the transactional booking coordinator, and the appointment lifecycle
// operations built on top of it. All interval math operates on UTC instants;
// the stored timezone is display-only.
package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// validTransitions is the full status graph. Terminal states have no entry.
var validTransitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether moving from -> to is allowed by the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(s Status) bool {
	return len(validTransitions[s]) == 0
}

// BlocksTimeline reports whether an appointment in this status occupies the
// practitioner's timeline for conflict purposes. Cancelled and no-show
// appointments free their slot.
func (s Status) BlocksTimeline() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// ServiceType is the clinical category of an appointment.
type ServiceType string

const (
	ServiceConsultation ServiceType = "consultation"
	ServiceTreatment    ServiceType = "treatment"
	ServiceFollowUp     ServiceType = "follow_up"
	ServiceProcedure    ServiceType = "procedure"
	ServiceCheckup      ServiceType = "checkup"
)

var serviceTypes = map[ServiceType]struct{}{
	ServiceConsultation: {},
	ServiceTreatment:    {},
	ServiceFollowUp:     {},
	ServiceProcedure:    {},
	ServiceCheckup:      {},
}

// ValidServiceType reports whether t is a known clinical category.
func ValidServiceType(t ServiceType) bool {
	_, ok := serviceTypes[t]
	return ok
}

// Interval is a half-open UTC time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the interval has positive duration.
func (iv Interval) Valid() bool {
	return iv.Start.Before(iv.End)
}

// DurationMinutes returns the interval length in whole minutes.
func (iv Interval) DurationMinutes() int {
	return int(iv.End.Sub(iv.Start) / time.Minute)
}

// Appointment is the booked unit of clinical time. Appointments never cross
// tenants and are never hard-deleted; cancellation is a status change.
type Appointment struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	PatientID      uuid.UUID
	PractitionerID *uuid.UUID

	StartUTC        time.Time
	EndUTC          time.Time
	Timezone        string
	DurationMinutes int

	ServiceType ServiceType
	Title       string
	Notes       string
	Price       string

	Status             Status
	CancellationReason string

	CreatedAt           time.Time
	UpdatedAt           time.Time
	CreatedBy           uuid.UUID
	UpdatedBy           uuid.UUID
	RescheduledCount    int
	OriginalScheduledAt *time.Time
}

// Interval returns the occupied UTC time range.
func (a *Appointment) Interval() Interval {
	return Interval{Start: a.StartUTC, End: a.EndUTC}
}

// ReminderType identifies the delivery channel of a reminder.
type ReminderType string

const (
	ReminderEmail ReminderType = "email"
	ReminderSMS   ReminderType = "sms"
	ReminderPush  ReminderType = "push"
)

// ReminderStatus is the dispatch state of a reminder row.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderFailed    ReminderStatus = "failed"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Reminder is a scheduled follow-up notification tied to one appointment.
// The engine's obligation ends at writing the row; a separate dispatcher
// delivers it.
type Reminder struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Type          ReminderType
	ScheduledFor  time.Time
	Status        ReminderStatus
	CreatedAt     time.Time
}

// CreateRequest carries the fields needed to book a new appointment. The
// caller (API layer, chat backend, admin UI) has already authenticated and
// resolved the tenant.
type CreateRequest struct {
	PatientID      uuid.UUID
	PractitionerID *uuid.UUID
	Start          time.Time
	End            time.Time
	Timezone       string
	ServiceType    ServiceType
	Title          string
	Notes          string
	Price          string
}
