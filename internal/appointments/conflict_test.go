package appointments

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
)

var base = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func interval(startMin, endMin int) Interval {
	return Interval{
		Start: base.Add(time.Duration(startMin) * time.Minute),
		End:   base.Add(time.Duration(endMin) * time.Minute),
	}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"identical", interval(0, 30), interval(0, 30), true},
		{"contained", interval(0, 60), interval(15, 30), true},
		{"partial overlap", interval(0, 30), interval(15, 45), true},
		{"adjacent after", interval(0, 30), interval(30, 60), false},
		{"adjacent before", interval(30, 60), interval(0, 30), false},
		{"disjoint", interval(0, 30), interval(90, 120), false},
		{"one minute shared", interval(0, 31), interval(30, 60), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.a, tc.b); got != tc.want {
				t.Fatalf("Overlaps(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
			// Overlap is symmetric.
			if got := Overlaps(tc.b, tc.a); got != tc.want {
				t.Fatalf("Overlaps not symmetric for %v, %v", tc.a, tc.b)
			}
		})
	}
}

func blockingAppt(tenantID, practitionerID uuid.UUID, iv Interval, status Status) Appointment {
	pid := practitionerID
	return Appointment{
		ID:             uuid.New(),
		TenantID:       tenantID,
		PatientID:      uuid.New(),
		PractitionerID: &pid,
		StartUTC:       iv.Start,
		EndUTC:         iv.End,
		Status:         status,
	}
}

func TestDetectConflictsFilters(t *testing.T) {
	tenantID := uuid.New()
	practitionerID := uuid.New()
	otherPractitioner := uuid.New()
	otherTenant := uuid.New()

	colliding := blockingAppt(tenantID, practitionerID, interval(0, 30), StatusScheduled)
	cancelled := blockingAppt(tenantID, practitionerID, interval(0, 30), StatusCancelled)
	noShow := blockingAppt(tenantID, practitionerID, interval(0, 30), StatusNoShow)
	wrongPractitioner := blockingAppt(tenantID, otherPractitioner, interval(0, 30), StatusScheduled)
	wrongTenant := blockingAppt(otherTenant, practitionerID, interval(0, 30), StatusScheduled)
	unassigned := colliding
	unassigned.ID = uuid.New()
	unassigned.PractitionerID = nil

	existing := []Appointment{colliding, cancelled, noShow, wrongPractitioner, wrongTenant, unassigned}

	report := DetectConflicts(tenantID, practitionerID, interval(15, 45), existing, nil)
	if !report.HasConflict {
		t.Fatal("expected a conflict")
	}
	if len(report.Conflicts) != 1 {
		t.Fatalf("expected exactly one conflict, got %d", len(report.Conflicts))
	}
	if report.Conflicts[0].ID != colliding.ID {
		t.Fatalf("expected conflict with %s, got %s", colliding.ID, report.Conflicts[0].ID)
	}
}

func TestDetectConflictsReturnsEveryCollision(t *testing.T) {
	tenantID := uuid.New()
	practitionerID := uuid.New()
	first := blockingAppt(tenantID, practitionerID, interval(0, 30), StatusScheduled)
	second := blockingAppt(tenantID, practitionerID, interval(30, 60), StatusConfirmed)
	third := blockingAppt(tenantID, practitionerID, interval(90, 120), StatusScheduled)

	report := DetectConflicts(tenantID, practitionerID, interval(15, 45), []Appointment{first, second, third}, nil)
	if len(report.Conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %d", len(report.Conflicts))
	}
}

func TestDetectConflictsExcludesSelf(t *testing.T) {
	tenantID := uuid.New()
	practitionerID := uuid.New()
	appt := blockingAppt(tenantID, practitionerID, interval(0, 30), StatusScheduled)

	// Rescheduling onto its own current interval must not conflict with itself.
	report := DetectConflicts(tenantID, practitionerID, appt.Interval(), []Appointment{appt}, &appt.ID)
	if report.HasConflict {
		t.Fatalf("expected self-exclusion, got conflicts %v", report.Conflicts)
	}
}

// TestDetectConflictsProperty generates random interval sets and asserts the
// detector flags every true overlap and no false ones.
func TestDetectConflictsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tenantID := uuid.New()
	practitionerID := uuid.New()

	for i := 0; i < 500; i++ {
		var existing []Appointment
		n := 1 + rng.Intn(12)
		for j := 0; j < n; j++ {
			start := rng.Intn(24 * 60)
			length := 1 + rng.Intn(180)
			existing = append(existing, blockingAppt(tenantID, practitionerID, interval(start, start+length), StatusScheduled))
		}
		cs := rng.Intn(24 * 60)
		candidate := interval(cs, cs+1+rng.Intn(180))

		report := DetectConflicts(tenantID, practitionerID, candidate, existing, nil)

		want := 0
		for _, appt := range existing {
			if candidate.Start.Before(appt.EndUTC) && appt.StartUTC.Before(candidate.End) {
				want++
			}
		}
		if len(report.Conflicts) != want {
			t.Fatalf("iteration %d: detector found %d conflicts, brute force found %d", i, len(report.Conflicts), want)
		}
		if report.HasConflict != (want > 0) {
			t.Fatalf("iteration %d: HasConflict=%v but %d true overlaps", i, report.HasConflict, want)
		}
	}
}
