package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"

	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

var apptColumnNames = []string{
	"id", "tenant_id", "patient_id", "practitioner_id",
	"start_utc", "end_utc", "timezone", "duration_minutes",
	"service_type", "title", "notes", "price", "status", "cancellation_reason",
	"created_at", "updated_at", "created_by", "updated_by",
	"rescheduled_count", "original_scheduled_at",
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter("error", discard{})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newInsertOp(tenantID, practitionerID uuid.UUID, iv Interval) BookingOp {
	pid := practitionerID
	now := time.Now().UTC()
	return BookingOp{Kind: OpInsert, Insert: &Appointment{
		ID:              uuid.New(),
		TenantID:        tenantID,
		PatientID:       uuid.New(),
		PractitionerID:  &pid,
		StartUTC:        iv.Start,
		EndUTC:          iv.End,
		Timezone:        "UTC",
		DurationMinutes: iv.DurationMinutes(),
		ServiceType:     ServiceConsultation,
		Status:          StatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}}
}

func appointmentRow(a *Appointment) []any {
	return []any{
		a.ID, a.TenantID, a.PatientID, a.PractitionerID,
		a.StartUTC, a.EndUTC, a.Timezone, a.DurationMinutes,
		a.ServiceType, a.Title, a.Notes, a.Price, a.Status, a.CancellationReason,
		a.CreatedAt, a.UpdatedAt, a.CreatedBy, a.UpdatedBy,
		a.RescheduledCount, a.OriginalScheduledAt,
	}
}

func TestCoordinatorCommitsInsertWithReminders(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	practitionerID := uuid.New()
	op := newInsertOp(tenantID, practitionerID, interval(0, 30))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM practitioners").
		WithArgs(tenantID, practitionerID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(practitionerID))
	mock.ExpectQuery("FROM appointments").
		WithArgs(tenantID, practitionerID).
		WillReturnRows(pgxmock.NewRows(apptColumnNames))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(
			op.Insert.ID, tenantID, op.Insert.PatientID, op.Insert.PractitionerID,
			op.Insert.StartUTC, op.Insert.EndUTC, "UTC", 30,
			ServiceConsultation, "", "", "", StatusScheduled,
			op.Insert.CreatedAt, op.Insert.UpdatedAt, uuid.Nil, uuid.Nil,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO reminders").
			WithArgs(pgxmock.AnyArg(), op.Insert.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), ReminderPending, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	coord := NewCoordinator(NewPostgresStore(mock), CoordinatorConfig{}, testLogger())
	coord.now = func() time.Time { return op.Insert.StartUTC.Add(-48 * time.Hour) }

	result, err := coord.Run(context.Background(), tenantID, &practitionerID, op)
	if err != nil {
		t.Fatalf("run booking: %v", err)
	}
	if len(result.Reminders) != 3 {
		t.Fatalf("expected 3 reminders, got %d", len(result.Reminders))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCoordinatorRollsBackOnConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	practitionerID := uuid.New()
	op := newInsertOp(tenantID, practitionerID, interval(15, 45))

	existing := newInsertOp(tenantID, practitionerID, interval(0, 30)).Insert

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM practitioners").
		WithArgs(tenantID, practitionerID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(practitionerID))
	mock.ExpectQuery("FROM appointments").
		WithArgs(tenantID, practitionerID).
		WillReturnRows(pgxmock.NewRows(apptColumnNames).AddRow(appointmentRow(existing)...))
	mock.ExpectRollback()

	coord := NewCoordinator(NewPostgresStore(mock), CoordinatorConfig{}, testLogger())

	_, err = coord.Run(context.Background(), tenantID, &practitionerID, op)
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	conflicts := ConflictsOf(err)
	if len(conflicts) != 1 || conflicts[0].ID != existing.ID {
		t.Fatalf("expected conflict list with existing appointment, got %v", conflicts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// A reminder insert failure after the appointment insert must roll back the
// appointment too: no orphan appointment without its reminders.
func TestCoordinatorRollbackAtomicity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	practitionerID := uuid.New()
	op := newInsertOp(tenantID, practitionerID, interval(0, 30))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM practitioners").
		WithArgs(tenantID, practitionerID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(practitionerID))
	mock.ExpectQuery("FROM appointments").
		WithArgs(tenantID, practitionerID).
		WillReturnRows(pgxmock.NewRows(apptColumnNames))
	mock.ExpectExec("INSERT INTO appointments").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO reminders").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	coord := NewCoordinator(NewPostgresStore(mock), CoordinatorConfig{}, testLogger())
	coord.now = func() time.Time { return op.Insert.StartUTC.Add(-48 * time.Hour) }

	_, err = coord.Run(context.Background(), tenantID, &practitionerID, op)
	if err == nil {
		t.Fatal("expected failure")
	}
	if ReasonOf(err) != ReasonSystem {
		t.Fatalf("expected system failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCoordinatorRetriesTransientFailures(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	practitionerID := uuid.New()
	op := newInsertOp(tenantID, practitionerID, interval(0, 30))

	// First attempt deadlocks, second succeeds.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM practitioners").
		WithArgs(tenantID, practitionerID).
		WillReturnError(&pgconn.PgError{Code: "40P01"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM practitioners").
		WithArgs(tenantID, practitionerID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(practitionerID))
	mock.ExpectQuery("FROM appointments").
		WithArgs(tenantID, practitionerID).
		WillReturnRows(pgxmock.NewRows(apptColumnNames))
	mock.ExpectExec("INSERT INTO appointments").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	coord := NewCoordinator(NewPostgresStore(mock), CoordinatorConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, testLogger())
	coord.now = func() time.Time { return op.Insert.StartUTC.Add(time.Hour) }

	if _, err := coord.Run(context.Background(), tenantID, &practitionerID, op); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCoordinatorDoesNotRetryMissingPractitioner(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	practitionerID := uuid.New()
	op := newInsertOp(tenantID, practitionerID, interval(0, 30))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM practitioners").
		WithArgs(tenantID, practitionerID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	coord := NewCoordinator(NewPostgresStore(mock), CoordinatorConfig{}, testLogger())

	_, err = coord.Run(context.Background(), tenantID, &practitionerID, op)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// Exactly-one-winner: N concurrent creates for pairwise-overlapping intervals
// on the same practitioner produce one success and N-1 conflicts.
func TestCoordinatorExactlyOneWinnerUnderConcurrency(t *testing.T) {
	store := NewMemoryStore()
	tenantID := uuid.New()
	practitionerID := uuid.New()
	store.AddPractitioner(tenantID, practitionerID)

	coord := NewCoordinator(store, CoordinatorConfig{}, testLogger())

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, conflicts int

	slot := interval(0, 30)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op := newInsertOp(tenantID, practitionerID, slot)
			_, err := coord.Run(context.Background(), tenantID, &practitionerID, op)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected failure: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d", successes)
	}
	if conflicts != n-1 {
		t.Fatalf("expected %d conflicts, got %d", n-1, conflicts)
	}

	active, err := store.ListActive(context.Background(), tenantID, practitionerID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 committed appointment, got %d", len(active))
	}
}

func TestCoordinatorAdjacentIntervalsDoNotConflict(t *testing.T) {
	store := NewMemoryStore()
	tenantID := uuid.New()
	practitionerID := uuid.New()
	store.AddPractitioner(tenantID, practitionerID)

	coord := NewCoordinator(store, CoordinatorConfig{}, testLogger())
	ctx := context.Background()

	if _, err := coord.Run(ctx, tenantID, &practitionerID, newInsertOp(tenantID, practitionerID, interval(0, 30))); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := coord.Run(ctx, tenantID, &practitionerID, newInsertOp(tenantID, practitionerID, interval(30, 60))); err != nil {
		t.Fatalf("adjacent booking should succeed: %v", err)
	}
}

func TestCoordinatorSkipsLockForUnassignedAppointment(t *testing.T) {
	store := NewMemoryStore()
	tenantID := uuid.New()
	coord := NewCoordinator(store, CoordinatorConfig{}, testLogger())

	op := newInsertOp(tenantID, uuid.New(), interval(0, 30))
	op.Insert.PractitionerID = nil

	// No practitioner registered; the unassigned path must not require one.
	if _, err := coord.Run(context.Background(), tenantID, nil, op); err != nil {
		t.Fatalf("unassigned booking: %v", err)
	}
}
