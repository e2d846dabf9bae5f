package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cabinethq/scheduling-platform/internal/appointments"
	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

// Availability is the answer to a what-if probe: could this interval be
// booked right now, and what stands in the way if not. The answer is a
// snapshot; only the booking transaction gives an authoritative verdict.
type Availability struct {
	Available bool                       `json:"available"`
	Conflicts []appointments.Appointment `json:"conflicts,omitempty"`
}

// Reader serves schedule queries outside the booking transaction.
type Reader struct {
	store  appointments.Store
	cache  *Cache
	logger *logging.Logger
	tracer trace.Tracer
}

// NewReader constructs a schedule reader. cache may be nil, in which case
// every query hits the store.
func NewReader(store appointments.Store, cache *Cache, logger *logging.Logger) *Reader {
	if store == nil {
		panic("schedule: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reader{
		store:  store,
		cache:  cache,
		logger: logger,
		tracer: otel.Tracer("cabinet.internal.schedule"),
	}
}

// CheckAvailability reports whether the interval is free for the
// practitioner and lists the appointments in the way when it is not.
// excludeID, when non-nil, skips one appointment so a "can I move A here"
// probe does not collide with A itself.
func (r *Reader) CheckAvailability(ctx context.Context, tenantID, practitionerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (*Availability, error) {
	ctx, span := r.tracer.Start(ctx, "schedule.check_availability")
	defer span.End()

	candidate := appointments.Interval{Start: start, End: end}
	if !candidate.Valid() {
		return nil, appointments.NewValidationError("interval start must be before end")
	}

	existing, err := r.store.ListActive(ctx, tenantID, practitionerID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	report := appointments.DetectConflicts(tenantID, practitionerID, candidate, existing, excludeID)
	return &Availability{
		Available: !report.HasConflict,
		Conflicts: report.Conflicts,
	}, nil
}

// GetPractitionerSchedule returns the practitioner's non-cancelled
// appointments intersecting [from, to), ordered by start time.
func (r *Reader) GetPractitionerSchedule(ctx context.Context, tenantID, practitionerID uuid.UUID, from, to time.Time) ([]appointments.Appointment, error) {
	ctx, span := r.tracer.Start(ctx, "schedule.get_practitioner_schedule")
	defer span.End()

	if !from.Before(to) {
		return nil, appointments.NewValidationError("schedule window start must be before end")
	}

	if r.cache != nil {
		if appts, ok := r.cache.Get(ctx, tenantID, practitionerID, from, to); ok {
			return appts, nil
		}
	}

	appts, err := r.store.ListSchedule(ctx, tenantID, practitionerID, from, to)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, tenantID, practitionerID, from, to, appts)
	}
	return appts, nil
}

// GetDaySchedule resolves a clinic-local calendar day to a UTC window and
// returns the schedule for it.
func (r *Reader) GetDaySchedule(ctx context.Context, tenantID, practitionerID uuid.UUID, day time.Time, timezone string) ([]appointments.Appointment, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, appointments.NewValidationError("unknown timezone %q", timezone)
	}
	local := day.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return r.GetPractitionerSchedule(ctx, tenantID, practitionerID, from.UTC(), from.AddDate(0, 0, 1).UTC())
}
