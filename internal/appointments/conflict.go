package appointments

import "github.com/google/uuid"

// Overlaps reports whether two half-open intervals [s1,e1) and [s2,e2)
// overlap: NOT (e1 <= s2 OR s1 >= e2). Adjacent intervals do not overlap.
func Overlaps(a, b Interval) bool {
	return !(a.End.Compare(b.Start) <= 0 || a.Start.Compare(b.End) >= 0)
}

// ConflictReport is the result of checking a candidate interval against a
// practitioner's existing appointments. Every colliding appointment is
// returned, not just the first, so callers can report all collisions.
type ConflictReport struct {
	HasConflict bool
	Conflicts   []Appointment
}

// DetectConflicts applies the overlap test to each existing appointment that
// still blocks the practitioner's timeline. excludeID, when non-nil, skips
// the appointment being moved during a reschedule. The candidate interval
// must already be validated (start < end); inverted or zero-duration
// intervals are a validation failure upstream, never a conflict.
func DetectConflicts(tenantID, practitionerID uuid.UUID, candidate Interval, existing []Appointment, excludeID *uuid.UUID) ConflictReport {
	var report ConflictReport
	for _, appt := range existing {
		if appt.TenantID != tenantID {
			continue
		}
		if appt.PractitionerID == nil || *appt.PractitionerID != practitionerID {
			continue
		}
		if !appt.Status.BlocksTimeline() {
			continue
		}
		if excludeID != nil && appt.ID == *excludeID {
			continue
		}
		if Overlaps(candidate, appt.Interval()) {
			report.Conflicts = append(report.Conflicts, appt)
		}
	}
	report.HasConflict = len(report.Conflicts) > 0
	return report
}
