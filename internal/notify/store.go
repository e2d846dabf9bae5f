package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cabinethq/scheduling-platform/internal/appointments"
)

// DueReminder is a pending reminder joined with enough appointment and
// patient context to render and address the message.
type DueReminder struct {
	ReminderID   uuid.UUID
	Type         appointments.ReminderType
	ScheduledFor time.Time

	AppointmentID uuid.UUID
	TenantID      uuid.UUID
	PatientID     uuid.UUID
	StartUTC      time.Time
	Timezone      string
	Title         string
	ServiceType   appointments.ServiceType

	PatientName  string
	PatientEmail string
	PatientPhone string
}

// ReminderSource provides the dispatcher's view of the reminder table.
// MarkSent and MarkFailed only touch rows still pending, so a reminder
// cancelled by a concurrent reschedule stays cancelled.
type ReminderSource interface {
	DueReminders(ctx context.Context, now time.Time, limit int) ([]DueReminder, error)
	MarkSent(ctx context.Context, reminderID uuid.UUID) error
	MarkFailed(ctx context.Context, reminderID uuid.UUID) error
}

// PgxPool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresReminderStore reads due reminders from Postgres. The dispatcher
// runs as a single instance; claims are guarded by the status = 'pending'
// condition on the mark updates rather than row locks.
type PostgresReminderStore struct {
	pool PgxPool
}

// NewPostgresReminderStore creates a reminder source backed by a pgx pool.
func NewPostgresReminderStore(pool PgxPool) *PostgresReminderStore {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &PostgresReminderStore{pool: pool}
}

// DueReminders returns pending reminders whose scheduled time has passed,
// oldest first, for appointments that are still on the calendar.
func (s *PostgresReminderStore) DueReminders(ctx context.Context, now time.Time, limit int) ([]DueReminder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.type, r.scheduled_for,
			a.id, a.tenant_id, a.patient_id, a.start_utc, a.timezone, a.title, a.service_type,
			p.full_name, p.email, p.phone
		FROM reminders r
		JOIN appointments a ON a.id = r.appointment_id
		JOIN patients p ON p.tenant_id = a.tenant_id AND p.id = a.patient_id
		WHERE r.status = 'pending'
		  AND r.scheduled_for <= $1
		  AND a.status IN ('scheduled', 'confirmed')
		ORDER BY r.scheduled_for
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list due reminders: %w", err)
	}
	defer rows.Close()

	var due []DueReminder
	for rows.Next() {
		var d DueReminder
		if err := rows.Scan(
			&d.ReminderID, &d.Type, &d.ScheduledFor,
			&d.AppointmentID, &d.TenantID, &d.PatientID, &d.StartUTC, &d.Timezone, &d.Title, &d.ServiceType,
			&d.PatientName, &d.PatientEmail, &d.PatientPhone,
		); err != nil {
			return nil, fmt.Errorf("notify: scan due reminder: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

func (s *PostgresReminderStore) markReminder(ctx context.Context, reminderID uuid.UUID, status appointments.ReminderStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reminders
		SET status = $2
		WHERE id = $1 AND status = 'pending'
	`, reminderID, status)
	if err != nil {
		return fmt.Errorf("notify: mark reminder %s: %w", status, err)
	}
	return nil
}

// MarkSent records a successful delivery.
func (s *PostgresReminderStore) MarkSent(ctx context.Context, reminderID uuid.UUID) error {
	return s.markReminder(ctx, reminderID, appointments.ReminderSent)
}

// MarkFailed records a delivery failure so the row is not retried forever.
func (s *PostgresReminderStore) MarkFailed(ctx context.Context, reminderID uuid.UUID) error {
	return s.markReminder(ctx, reminderID, appointments.ReminderFailed)
}

var _ ReminderSource = (*PostgresReminderStore)(nil)
