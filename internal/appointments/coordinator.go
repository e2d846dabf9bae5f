package appointments

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

var coordinatorTracer = otel.Tracer("cabinet.internal.appointments.coordinator")

// OpKind tags the write a booking operation performs.
type OpKind string

const (
	OpInsert     OpKind = "insert"
	OpReschedule OpKind = "reschedule"
)

// RescheduleChange moves an existing appointment to a new interval. The moved
// appointment is excluded from its own conflict check.
type RescheduleChange struct {
	AppointmentID uuid.UUID
	NewStart      time.Time
	NewEnd        time.Time
	UpdatedBy     uuid.UUID
}

// BookingOp is the exhaustively-matched write command the coordinator
// executes after the conflict check. Exactly one variant field is set,
// matching Kind.
type BookingOp struct {
	Kind       OpKind
	Insert     *Appointment
	Reschedule *RescheduleChange
}

// BookingResult is the committed outcome of a booking operation.
type BookingResult struct {
	Appointment *Appointment
	Reminders   []Reminder
}

// CoordinatorConfig tunes the bounded retry applied to transient store
// failures. Conflicts are never retried.
type CoordinatorConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Coordinator makes "check conflicts, then write" atomic under concurrent
// callers targeting the same practitioner. It is the only component that
// mutates the appointment table; every write goes through Run.
type Coordinator struct {
	store       Store
	logger      *logging.Logger
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
}

// NewCoordinator constructs a coordinator over the given store.
func NewCoordinator(store Store, cfg CoordinatorConfig, logger *logging.Logger) *Coordinator {
	if store == nil {
		panic("appointments: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 25 * time.Millisecond
	}
	return &Coordinator{
		store:       store,
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run locks the practitioner's timeline, detects interval overlaps, commits
// the requested write together with its derived reminders, or aborts with a
// structured failure. Transient store errors are retried with backoff up to
// the configured bound.
func (c *Coordinator) Run(ctx context.Context, tenantID uuid.UUID, practitionerID *uuid.UUID, op BookingOp) (*BookingResult, error) {
	ctx, span := coordinatorTracer.Start(ctx, "booking.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("cabinet.tenant_id", tenantID.String()),
		attribute.String("cabinet.op", string(op.Kind)),
	)

	for attempt := 1; ; attempt++ {
		result, err := c.runOnce(ctx, tenantID, practitionerID, op)
		if err == nil {
			return result, nil
		}
		var be *BookingError
		if errors.As(err, &be) {
			// Business-level outcome: surface immediately, never retry.
			return nil, be
		}
		if attempt >= c.maxAttempts || !isTransient(err) {
			span.RecordError(err)
			return nil, NewSystemError(err)
		}
		delay := c.backoff(attempt)
		c.logger.Warn("booking: transient store failure, retrying",
			"tenant_id", tenantID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, NewSystemError(ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (c *Coordinator) runOnce(ctx context.Context, tenantID uuid.UUID, practitionerID *uuid.UUID, op BookingOp) (*BookingResult, error) {
	candidate, excludeID, err := op.interval()
	if err != nil {
		return nil, err
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	// Any failure below rolls back the whole unit of work; Rollback after
	// Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	// An unassigned appointment occupies no practitioner timeline: nothing to
	// lock, nothing to conflict with.
	if practitionerID != nil {
		if err := tx.LockPractitioner(ctx, tenantID, *practitionerID); err != nil {
			return nil, err
		}
		existing, err := tx.ListActive(ctx, tenantID, *practitionerID)
		if err != nil {
			return nil, err
		}
		report := DetectConflicts(tenantID, *practitionerID, candidate, existing, excludeID)
		if report.HasConflict {
			return nil, NewConflictError(report.Conflicts)
		}
	}

	var appt *Appointment
	switch op.Kind {
	case OpInsert:
		appt = op.Insert
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return nil, err
		}
	case OpReschedule:
		ch := op.Reschedule
		appt, err = tx.RescheduleAppointment(ctx, tenantID, ch.AppointmentID, ch.NewStart, ch.NewEnd, ch.UpdatedBy)
		if err != nil {
			return nil, err
		}
		// Superseded reminders are moved to cancelled before new ones are
		// derived from the new start time.
		if _, err := tx.CancelPendingReminders(ctx, appt.ID); err != nil {
			return nil, err
		}
	default:
		return nil, NewValidationError("unsupported booking op %q", op.Kind)
	}

	specs := DeriveReminders(appt.StartUTC, c.now())
	reminders, err := tx.InsertReminders(ctx, appt.ID, specs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &BookingResult{Appointment: appt, Reminders: reminders}, nil
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	delay := c.baseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(c.baseDelay)))
	return delay + jitter
}

// interval returns the candidate interval and the appointment to exclude from
// the conflict check, validating the op shape.
func (op BookingOp) interval() (Interval, *uuid.UUID, error) {
	switch op.Kind {
	case OpInsert:
		if op.Insert == nil {
			return Interval{}, nil, NewValidationError("insert op missing appointment")
		}
		return op.Insert.Interval(), nil, nil
	case OpReschedule:
		if op.Reschedule == nil {
			return Interval{}, nil, NewValidationError("reschedule op missing change")
		}
		iv := Interval{Start: op.Reschedule.NewStart, End: op.Reschedule.NewEnd}
		id := op.Reschedule.AppointmentID
		return iv, &id, nil
	default:
		return Interval{}, nil, NewValidationError("unsupported booking op %q", op.Kind)
	}
}
