package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists appointments and reminders in Postgres via pgx.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore creates a store backed by a pgx pool.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

// Begin opens a booking transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin tx: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

const appointmentColumns = `id, tenant_id, patient_id, practitioner_id,
		start_utc, end_utc, timezone, duration_minutes,
		service_type, title, notes, price, status, cancellation_reason,
		created_at, updated_at, created_by, updated_by,
		rescheduled_count, original_scheduled_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.TenantID, &a.PatientID, &a.PractitionerID,
		&a.StartUTC, &a.EndUTC, &a.Timezone, &a.DurationMinutes,
		&a.ServiceType, &a.Title, &a.Notes, &a.Price, &a.Status, &a.CancellationReason,
		&a.CreatedAt, &a.UpdatedAt, &a.CreatedBy, &a.UpdatedBy,
		&a.RescheduledCount, &a.OriginalScheduledAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getAppointment(ctx context.Context, q querier, tenantID, appointmentID uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, appointmentID)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewNotFoundError("appointment %s not found", appointmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: load appointment: %w", err)
	}
	return appt, nil
}

func listActive(ctx context.Context, q querier, tenantID, practitionerID uuid.UUID) ([]Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND practitioner_id = $2
		  AND status NOT IN ('cancelled', 'no_show')
		ORDER BY start_utc
	`, tenantID, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list active: %w", err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan row: %w", err)
		}
		out = append(out, *appt)
	}
	return out, rows.Err()
}

// GetAppointment loads one appointment scoped to the tenant.
func (s *PostgresStore) GetAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, s.pool, tenantID, appointmentID)
}

// ListActive returns the practitioner's blocking appointments as an
// eventually-consistent snapshot.
func (s *PostgresStore) ListActive(ctx context.Context, tenantID, practitionerID uuid.UUID) ([]Appointment, error) {
	return listActive(ctx, s.pool, tenantID, practitionerID)
}

// ListSchedule returns non-cancelled appointments intersecting [from, to),
// ordered by start time ascending.
func (s *PostgresStore) ListSchedule(ctx context.Context, tenantID, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND practitioner_id = $2
		  AND status <> 'cancelled'
		  AND start_utc < $4 AND end_utc > $3
		ORDER BY start_utc
	`, tenantID, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("appointments: list schedule: %w", err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

type postgresTx struct {
	tx pgx.Tx
}

// LockPractitioner serializes bookings per practitioner via a row-level
// exclusive lock. Other practitioners are never blocked.
func (t *postgresTx) LockPractitioner(ctx context.Context, tenantID, practitionerID uuid.UUID) error {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM practitioners
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, practitionerID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFoundError("practitioner %s not found", practitionerID)
	}
	if err != nil {
		return fmt.Errorf("appointments: lock practitioner: %w", err)
	}
	return nil
}

func (t *postgresTx) ListActive(ctx context.Context, tenantID, practitionerID uuid.UUID) ([]Appointment, error) {
	return listActive(ctx, t.tx, tenantID, practitionerID)
}

func (t *postgresTx) GetAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, t.tx, tenantID, appointmentID)
}

func (t *postgresTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (
			id, tenant_id, patient_id, practitioner_id,
			start_utc, end_utc, timezone, duration_minutes,
			service_type, title, notes, price, status,
			created_at, updated_at, created_by, updated_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		a.ID, a.TenantID, a.PatientID, a.PractitionerID,
		a.StartUTC, a.EndUTC, a.Timezone, a.DurationMinutes,
		a.ServiceType, a.Title, a.Notes, a.Price, a.Status,
		a.CreatedAt, a.UpdatedAt, a.CreatedBy, a.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("appointments: insert appointment: %w", err)
	}
	return nil
}

// RescheduleAppointment moves the interval in place. original_scheduled_at is
// set from the pre-update start on first reschedule only; Postgres evaluates
// the right-hand side against the old row. The status predicate re-checks the
// lifecycle state under the practitioner lock: a cancel committed after the
// caller's lock-free pre-check matches zero rows here instead of reviving a
// cancelled appointment.
func (t *postgresTx) RescheduleAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, newStart, newEnd time.Time, updatedBy uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_utc = $3,
			end_utc = $4,
			duration_minutes = $5,
			rescheduled_count = rescheduled_count + 1,
			original_scheduled_at = COALESCE(original_scheduled_at, start_utc),
			updated_at = now(),
			updated_by = $6
		WHERE tenant_id = $1 AND id = $2
		  AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, tenantID, appointmentID, newStart, newEnd, Interval{Start: newStart, End: newEnd}.DurationMinutes(), updatedBy)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, lookupErr := getAppointment(ctx, t.tx, tenantID, appointmentID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return nil, NewValidationError("cannot reschedule a %s appointment", current.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: reschedule appointment: %w", err)
	}
	return appt, nil
}

func (t *postgresTx) CancelAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, reason string, updatedBy uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancellation_reason = $3,
			updated_at = now(),
			updated_by = $4
		WHERE tenant_id = $1 AND id = $2
		  AND status NOT IN ('completed', 'cancelled')
	`, tenantID, appointmentID, reason, updatedBy)
	if err != nil {
		return false, fmt.Errorf("appointments: cancel appointment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *postgresTx) ConfirmAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, confirmedBy uuid.UUID) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'confirmed',
			updated_at = now(),
			updated_by = $3
		WHERE tenant_id = $1 AND id = $2
		  AND status = 'scheduled'
	`, tenantID, appointmentID, confirmedBy)
	if err != nil {
		return false, fmt.Errorf("appointments: confirm appointment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *postgresTx) CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE reminders
		SET status = 'cancelled'
		WHERE appointment_id = $1 AND status = 'pending'
	`, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("appointments: cancel pending reminders: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *postgresTx) InsertReminders(ctx context.Context, appointmentID uuid.UUID, specs []ReminderSpec) ([]Reminder, error) {
	reminders := make([]Reminder, 0, len(specs))
	for _, spec := range specs {
		r := Reminder{
			ID:            uuid.New(),
			AppointmentID: appointmentID,
			Type:          spec.Type,
			ScheduledFor:  spec.ScheduledFor,
			Status:        ReminderPending,
			CreatedAt:     time.Now().UTC(),
		}
		_, err := t.tx.Exec(ctx, `
			INSERT INTO reminders (id, appointment_id, type, scheduled_for, status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, r.ID, r.AppointmentID, r.Type, r.ScheduledFor, r.Status, r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("appointments: insert reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// Transient Postgres failures the coordinator may retry: serialization
// failure, deadlock detected, unique violation from a concurrent writer.
var transientPgCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"23505": {},
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := transientPgCodes[pgErr.Code]
		return ok
	}
	return false
}
