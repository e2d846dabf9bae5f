package appointments

import "time"

// ReminderSpec is a derived reminder before persistence assigns it an id.
type ReminderSpec struct {
	Type         ReminderType
	ScheduledFor time.Time
}

// reminderOffsets are the fixed lead times before an appointment start at
// which each channel fires.
var reminderOffsets = []struct {
	Type   ReminderType
	Before time.Duration
}{
	{ReminderEmail, 24 * time.Hour},
	{ReminderSMS, 2 * time.Hour},
	{ReminderPush, 15 * time.Minute},
}

// DeriveReminders returns the reminder specs for an appointment starting at
// startUTC. A reminder whose computed time is not strictly after now is
// omitted; a reminder is never scheduled in the past. Pure function, no side
// effects; the lifecycle service persists the output.
func DeriveReminders(startUTC, now time.Time) []ReminderSpec {
	var specs []ReminderSpec
	for _, offset := range reminderOffsets {
		at := startUTC.Add(-offset.Before)
		if !at.After(now) {
			continue
		}
		specs = append(specs, ReminderSpec{Type: offset.Type, ScheduledFor: at})
	}
	return specs
}
