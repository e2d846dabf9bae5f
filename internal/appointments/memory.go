package appointments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used for demo mode and tests. It
// reproduces the serialization semantics of the Postgres store: a
// per-practitioner mutex is held from LockPractitioner until the transaction
// finishes, and writes are undone on rollback.
type MemoryStore struct {
	mu            sync.Mutex
	appointments  map[uuid.UUID]*Appointment
	reminders     map[uuid.UUID]*Reminder
	practitioners map[uuid.UUID]map[uuid.UUID]struct{}
	locks         map[practKey]*sync.Mutex
}

type practKey struct {
	tenantID       uuid.UUID
	practitionerID uuid.UUID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments:  make(map[uuid.UUID]*Appointment),
		reminders:     make(map[uuid.UUID]*Reminder),
		practitioners: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		locks:         make(map[practKey]*sync.Mutex),
	}
}

// AddPractitioner registers a practitioner in a tenant.
func (s *MemoryStore) AddPractitioner(tenantID, practitionerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.practitioners[tenantID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		s.practitioners[tenantID] = set
	}
	set[practitionerID] = struct{}{}
}

// Begin opens a booking transaction.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{store: s}, nil
}

// GetAppointment loads one appointment scoped to the tenant.
func (s *MemoryStore) GetAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(tenantID, appointmentID)
}

func (s *MemoryStore) getLocked(tenantID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, ok := s.appointments[appointmentID]
	if !ok || appt.TenantID != tenantID {
		return nil, NewNotFoundError("appointment %s not found", appointmentID)
	}
	cp := *appt
	return &cp, nil
}

// ListActive returns the practitioner's blocking appointments.
func (s *MemoryStore) ListActive(ctx context.Context, tenantID, practitionerID uuid.UUID) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listActiveLocked(tenantID, practitionerID), nil
}

func (s *MemoryStore) listActiveLocked(tenantID, practitionerID uuid.UUID) []Appointment {
	var out []Appointment
	for _, appt := range s.appointments {
		if appt.TenantID != tenantID || appt.PractitionerID == nil || *appt.PractitionerID != practitionerID {
			continue
		}
		if !appt.Status.BlocksTimeline() {
			continue
		}
		out = append(out, *appt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartUTC.Before(out[j].StartUTC) })
	return out
}

// ListSchedule returns non-cancelled appointments intersecting [from, to).
func (s *MemoryStore) ListSchedule(ctx context.Context, tenantID, practitionerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, appt := range s.appointments {
		if appt.TenantID != tenantID || appt.PractitionerID == nil || *appt.PractitionerID != practitionerID {
			continue
		}
		if appt.Status == StatusCancelled {
			continue
		}
		if !appt.StartUTC.Before(to) || !appt.EndUTC.After(from) {
			continue
		}
		out = append(out, *appt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartUTC.Before(out[j].StartUTC) })
	return out, nil
}

// PendingReminders returns pending reminders for an appointment, for tests
// and the demo dispatcher.
func (s *MemoryStore) PendingReminders(appointmentID uuid.UUID) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reminder
	for _, r := range s.reminders {
		if r.AppointmentID == appointmentID && r.Status == ReminderPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out
}

type memoryTx struct {
	store *MemoryStore
	held  []*sync.Mutex
	undo  []func()
	done  bool
}

func (t *memoryTx) LockPractitioner(ctx context.Context, tenantID, practitionerID uuid.UUID) error {
	t.store.mu.Lock()
	set, ok := t.store.practitioners[tenantID]
	if !ok {
		t.store.mu.Unlock()
		return NewNotFoundError("practitioner %s not found", practitionerID)
	}
	if _, ok := set[practitionerID]; !ok {
		t.store.mu.Unlock()
		return NewNotFoundError("practitioner %s not found", practitionerID)
	}
	key := practKey{tenantID: tenantID, practitionerID: practitionerID}
	lock, ok := t.store.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		t.store.locks[key] = lock
	}
	t.store.mu.Unlock()

	// Block until any concurrent booking for this practitioner finishes, the
	// same way the row lock does.
	lock.Lock()
	t.held = append(t.held, lock)
	return nil
}

func (t *memoryTx) ListActive(ctx context.Context, tenantID, practitionerID uuid.UUID) ([]Appointment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.listActiveLocked(tenantID, practitionerID), nil
}

func (t *memoryTx) GetAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID) (*Appointment, error) {
	return t.store.GetAppointment(ctx, tenantID, appointmentID)
}

func (t *memoryTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	cp := *a
	t.store.appointments[a.ID] = &cp
	id := a.ID
	t.undo = append(t.undo, func() { delete(t.store.appointments, id) })
	return nil
}

func (t *memoryTx) RescheduleAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, newStart, newEnd time.Time, updatedBy uuid.UUID) (*Appointment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	appt, ok := t.store.appointments[appointmentID]
	if !ok || appt.TenantID != tenantID {
		return nil, NewNotFoundError("appointment %s not found", appointmentID)
	}
	if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
		return nil, NewValidationError("cannot reschedule a %s appointment", appt.Status)
	}
	prev := *appt
	t.undo = append(t.undo, func() { *t.store.appointments[appointmentID] = prev })

	if appt.OriginalScheduledAt == nil {
		orig := appt.StartUTC
		appt.OriginalScheduledAt = &orig
	}
	appt.StartUTC = newStart
	appt.EndUTC = newEnd
	appt.DurationMinutes = Interval{Start: newStart, End: newEnd}.DurationMinutes()
	appt.RescheduledCount++
	appt.UpdatedAt = time.Now().UTC()
	appt.UpdatedBy = updatedBy
	cp := *appt
	return &cp, nil
}

func (t *memoryTx) CancelAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, reason string, updatedBy uuid.UUID) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	appt, ok := t.store.appointments[appointmentID]
	if !ok || appt.TenantID != tenantID {
		return false, nil
	}
	if appt.Status == StatusCompleted || appt.Status == StatusCancelled {
		return false, nil
	}
	prev := *appt
	t.undo = append(t.undo, func() { *t.store.appointments[appointmentID] = prev })
	appt.Status = StatusCancelled
	appt.CancellationReason = reason
	appt.UpdatedAt = time.Now().UTC()
	appt.UpdatedBy = updatedBy
	return true, nil
}

func (t *memoryTx) ConfirmAppointment(ctx context.Context, tenantID, appointmentID uuid.UUID, confirmedBy uuid.UUID) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	appt, ok := t.store.appointments[appointmentID]
	if !ok || appt.TenantID != tenantID {
		return false, nil
	}
	if appt.Status != StatusScheduled {
		return false, nil
	}
	prev := *appt
	t.undo = append(t.undo, func() { *t.store.appointments[appointmentID] = prev })
	appt.Status = StatusConfirmed
	appt.UpdatedAt = time.Now().UTC()
	appt.UpdatedBy = confirmedBy
	return true, nil
}

func (t *memoryTx) CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var n int64
	for id, r := range t.store.reminders {
		if r.AppointmentID != appointmentID || r.Status != ReminderPending {
			continue
		}
		rid := id
		t.undo = append(t.undo, func() { t.store.reminders[rid].Status = ReminderPending })
		r.Status = ReminderCancelled
		n++
	}
	return n, nil
}

func (t *memoryTx) InsertReminders(ctx context.Context, appointmentID uuid.UUID, specs []ReminderSpec) ([]Reminder, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
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
		cp := r
		t.store.reminders[r.ID] = &cp
		rid := r.ID
		t.undo = append(t.undo, func() { delete(t.store.reminders, rid) })
		reminders = append(reminders, r)
	}
	return reminders, nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.undo = nil
	t.release()
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *memoryTx) release() {
	for _, lock := range t.held {
		lock.Unlock()
	}
	t.held = nil
}
