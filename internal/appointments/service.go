package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cabinethq/scheduling-platform/internal/observability/metrics"
	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

var serviceTracer = otel.Tracer("cabinet.internal.appointments")

// ScheduleInvalidator drops cached schedule snapshots after a successful
// write. Best-effort; failures are logged, never surfaced.
type ScheduleInvalidator interface {
	Invalidate(ctx context.Context, tenantID, practitionerID uuid.UUID)
}

// ServicePolicy carries per-deployment booking rules.
type ServicePolicy struct {
	// RequirePractitioner rejects create requests without a practitioner.
	RequirePractitioner bool
}

// Service exposes the caller-facing lifecycle operations: create,
// reschedule, cancel, confirm. It validates input and enforces the status
// state machine, then delegates every timeline write to the coordinator.
type Service struct {
	store       Store
	coordinator *Coordinator
	cache       ScheduleInvalidator
	policy      ServicePolicy
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
	now         func() time.Time
}

// NewService constructs the lifecycle service. cache and bookingMetrics may
// be nil.
func NewService(store Store, coordinator *Coordinator, cache ScheduleInvalidator, policy ServicePolicy, bookingMetrics *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if store == nil {
		panic("appointments: store required")
	}
	if coordinator == nil {
		panic("appointments: coordinator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:       store,
		coordinator: coordinator,
		cache:       cache,
		policy:      policy,
		metrics:     bookingMetrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create books a new appointment. Returns the created appointment or a
// validation/conflict/system failure.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req CreateRequest, userID uuid.UUID) (*Appointment, error) {
	ctx, span := serviceTracer.Start(ctx, "appointments.create")
	defer span.End()
	span.SetAttributes(attribute.String("cabinet.tenant_id", tenantID.String()))
	start := s.now()

	appt, err := s.buildAppointment(tenantID, req, userID)
	if err != nil {
		s.observe("create", err, start)
		return nil, err
	}

	result, err := s.coordinator.Run(ctx, tenantID, appt.PractitionerID, BookingOp{Kind: OpInsert, Insert: appt})
	if err != nil {
		s.observe("create", err, start)
		return nil, err
	}

	s.afterWrite(ctx, result)
	s.observe("create", nil, start)
	s.logger.Info("appointment created",
		"tenant_id", tenantID,
		"appointment_id", result.Appointment.ID,
		"patient_id", appt.PatientID,
		"start_utc", appt.StartUTC,
		"reminders", len(result.Reminders),
	)
	return result.Appointment, nil
}

func (s *Service) buildAppointment(tenantID uuid.UUID, req CreateRequest, userID uuid.UUID) (*Appointment, error) {
	if tenantID == uuid.Nil {
		return nil, NewValidationError("tenant id is required")
	}
	if req.PatientID == uuid.Nil {
		return nil, NewValidationError("patient id is required")
	}
	if !ValidServiceType(req.ServiceType) {
		return nil, NewValidationError("unknown service type %q", req.ServiceType)
	}
	if err := validateInterval(req.Start, req.End); err != nil {
		return nil, err
	}
	if s.policy.RequirePractitioner && req.PractitionerID == nil {
		return nil, NewValidationError("practitioner id is required")
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, NewValidationError("unknown timezone %q", req.Timezone)
	}

	now := s.now()
	startUTC := req.Start.UTC()
	endUTC := req.End.UTC()
	return &Appointment{
		ID:              uuid.New(),
		TenantID:        tenantID,
		PatientID:       req.PatientID,
		PractitionerID:  req.PractitionerID,
		StartUTC:        startUTC,
		EndUTC:          endUTC,
		Timezone:        tz,
		DurationMinutes: Interval{Start: startUTC, End: endUTC}.DurationMinutes(),
		ServiceType:     req.ServiceType,
		Title:           req.Title,
		Notes:           req.Notes,
		Price:           req.Price,
		Status:          StatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
		CreatedBy:       userID,
		UpdatedBy:       userID,
	}, nil
}

// Reschedule moves an appointment to a new interval, excluding it from its
// own conflict check. The first reschedule preserves the original start.
func (s *Service) Reschedule(ctx context.Context, tenantID, appointmentID uuid.UUID, newStart, newEnd time.Time, userID uuid.UUID) (*Appointment, error) {
	ctx, span := serviceTracer.Start(ctx, "appointments.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("cabinet.appointment_id", appointmentID.String()))
	start := s.now()

	if err := validateInterval(newStart, newEnd); err != nil {
		s.observe("reschedule", err, start)
		return nil, err
	}

	current, err := s.store.GetAppointment(ctx, tenantID, appointmentID)
	if err != nil {
		s.observe("reschedule", err, start)
		return nil, err
	}
	if current.Status != StatusScheduled && current.Status != StatusConfirmed {
		err := NewValidationError("cannot reschedule a %s appointment", current.Status)
		s.observe("reschedule", err, start)
		return nil, err
	}

	op := BookingOp{Kind: OpReschedule, Reschedule: &RescheduleChange{
		AppointmentID: appointmentID,
		NewStart:      newStart.UTC(),
		NewEnd:        newEnd.UTC(),
		UpdatedBy:     userID,
	}}
	result, err := s.coordinator.Run(ctx, tenantID, current.PractitionerID, op)
	if err != nil {
		s.observe("reschedule", err, start)
		return nil, err
	}

	s.afterWrite(ctx, result)
	s.observe("reschedule", nil, start)
	s.logger.Info("appointment rescheduled",
		"tenant_id", tenantID,
		"appointment_id", appointmentID,
		"new_start_utc", result.Appointment.StartUTC,
		"rescheduled_count", result.Appointment.RescheduledCount,
	)
	return result.Appointment, nil
}

// Cancel marks the appointment cancelled and cascades to its pending
// reminders. Returns false, not an error, when the appointment is already
// completed or cancelled.
func (s *Service) Cancel(ctx context.Context, tenantID, appointmentID uuid.UUID, reason string, userID uuid.UUID) (bool, error) {
	ctx, span := serviceTracer.Start(ctx, "appointments.cancel")
	defer span.End()
	start := s.now()

	current, err := s.store.GetAppointment(ctx, tenantID, appointmentID)
	if err != nil {
		s.observe("cancel", err, start)
		return false, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.observe("cancel", err, start)
		return false, NewSystemError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ok, err := tx.CancelAppointment(ctx, tenantID, appointmentID, reason, userID)
	if err != nil {
		s.observe("cancel", err, start)
		return false, NewSystemError(err)
	}
	if !ok {
		s.observe("cancel", nil, start)
		return false, nil
	}
	if _, err := tx.CancelPendingReminders(ctx, appointmentID); err != nil {
		s.observe("cancel", err, start)
		return false, NewSystemError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		s.observe("cancel", err, start)
		return false, NewSystemError(err)
	}

	if current.PractitionerID != nil && s.cache != nil {
		s.cache.Invalidate(ctx, tenantID, *current.PractitionerID)
	}
	s.observe("cancel", nil, start)
	s.logger.Info("appointment cancelled",
		"tenant_id", tenantID,
		"appointment_id", appointmentID,
		"reason", reason,
	)
	return true, nil
}

// Confirm moves a scheduled appointment to confirmed. Already-confirmed or
// later states are a no-op; confirming a cancelled or no-show appointment is
// a validation failure.
func (s *Service) Confirm(ctx context.Context, tenantID, appointmentID uuid.UUID, confirmedBy uuid.UUID) error {
	ctx, span := serviceTracer.Start(ctx, "appointments.confirm")
	defer span.End()
	start := s.now()

	current, err := s.store.GetAppointment(ctx, tenantID, appointmentID)
	if err != nil {
		s.observe("confirm", err, start)
		return err
	}
	switch current.Status {
	case StatusScheduled:
	case StatusConfirmed, StatusInProgress, StatusCompleted:
		s.observe("confirm", nil, start)
		return nil
	default:
		err := NewValidationError("cannot confirm a %s appointment", current.Status)
		s.observe("confirm", err, start)
		return err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.observe("confirm", err, start)
		return NewSystemError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.ConfirmAppointment(ctx, tenantID, appointmentID, confirmedBy); err != nil {
		s.observe("confirm", err, start)
		return NewSystemError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		s.observe("confirm", err, start)
		return NewSystemError(err)
	}

	s.observe("confirm", nil, start)
	s.logger.Info("appointment confirmed",
		"tenant_id", tenantID,
		"appointment_id", appointmentID,
	)
	return nil
}

// Get loads one appointment scoped to the tenant.
func (s *Service) Get(ctx context.Context, tenantID, appointmentID uuid.UUID) (*Appointment, error) {
	return s.store.GetAppointment(ctx, tenantID, appointmentID)
}

func (s *Service) afterWrite(ctx context.Context, result *BookingResult) {
	for _, r := range result.Reminders {
		s.metrics.ObserveReminder(string(r.Type))
	}
	if s.cache != nil && result.Appointment.PractitionerID != nil {
		s.cache.Invalidate(ctx, result.Appointment.TenantID, *result.Appointment.PractitionerID)
	}
}

func (s *Service) observe(operation string, err error, start time.Time) {
	outcome := "success"
	if err != nil {
		outcome = string(ReasonOf(err))
		if IsConflict(err) {
			s.metrics.ObserveConflict(operation)
		}
	}
	s.metrics.ObserveOperation(operation, outcome, s.now().Sub(start).Seconds())
}

func validateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return NewValidationError("start and end are required")
	}
	if !start.Before(end) {
		return NewValidationError("interval start must be before end")
	}
	return nil
}
