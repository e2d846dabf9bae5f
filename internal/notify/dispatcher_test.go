package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cabinethq/scheduling-platform/internal/appointments"
	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

// Mock implementations

type mockEmailSender struct {
	sent    []EmailMessage
	callErr error
}

func (m *mockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.callErr != nil {
		return m.callErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockSMSSender struct {
	sent []struct{ to, body string }
}

func (m *mockSMSSender) SendSMS(ctx context.Context, to, body string) error {
	m.sent = append(m.sent, struct{ to, body string }{to, body})
	return nil
}

type mockPushQueue struct {
	published []PushMessage
}

func (m *mockPushQueue) Publish(ctx context.Context, msg PushMessage) error {
	m.published = append(m.published, msg)
	return nil
}

type mockReminderSource struct {
	due    []DueReminder
	sent   []uuid.UUID
	failed []uuid.UUID
}

func (m *mockReminderSource) DueReminders(ctx context.Context, now time.Time, limit int) ([]DueReminder, error) {
	if limit < len(m.due) {
		return m.due[:limit], nil
	}
	return m.due, nil
}

func (m *mockReminderSource) MarkSent(ctx context.Context, id uuid.UUID) error {
	m.sent = append(m.sent, id)
	return nil
}

func (m *mockReminderSource) MarkFailed(ctx context.Context, id uuid.UUID) error {
	m.failed = append(m.failed, id)
	return nil
}

func testReminder(t appointments.ReminderType) DueReminder {
	return DueReminder{
		ReminderID:    uuid.New(),
		Type:          t,
		ScheduledFor:  time.Date(2026, time.May, 4, 13, 0, 0, 0, time.UTC),
		AppointmentID: uuid.New(),
		TenantID:      uuid.New(),
		PatientID:     uuid.New(),
		StartUTC:      time.Date(2026, time.May, 4, 15, 0, 0, 0, time.UTC),
		Timezone:      "America/Chicago",
		Title:         "Follow-up consultation",
		ServiceType:   appointments.ServiceFollowUp,
		PatientName:   "Dana Reyes",
		PatientEmail:  "dana@example.com",
		PatientPhone:  "+15550100",
	}
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter("error", discard{})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestDispatchRoutesByChannel(t *testing.T) {
	email := &mockEmailSender{}
	sms := &mockSMSSender{}
	push := &mockPushQueue{}
	source := &mockReminderSource{due: []DueReminder{
		testReminder(appointments.ReminderEmail),
		testReminder(appointments.ReminderSMS),
		testReminder(appointments.ReminderPush),
	}}

	d := NewDispatcher(source, email, sms, push, DispatcherConfig{}, nil, testLogger())
	if err := d.DispatchDue(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(email.sent) != 1 || len(sms.sent) != 1 || len(push.published) != 1 {
		t.Fatalf("expected one delivery per channel, got email=%d sms=%d push=%d",
			len(email.sent), len(sms.sent), len(push.published))
	}
	if len(source.sent) != 3 || len(source.failed) != 0 {
		t.Fatalf("expected 3 sent marks, got sent=%d failed=%d", len(source.sent), len(source.failed))
	}
	// 15:00 UTC is 10:00 in Chicago; the message uses clinic-local time.
	if !strings.Contains(email.sent[0].Body, "10:00 AM") {
		t.Fatalf("email body not in local time: %q", email.sent[0].Body)
	}
	if email.sent[0].To != "dana@example.com" {
		t.Fatalf("email addressed to %q", email.sent[0].To)
	}
}

func TestDispatchMarksFailures(t *testing.T) {
	email := &mockEmailSender{callErr: errors.New("smtp down")}
	sent := testReminder(appointments.ReminderSMS)
	broken := testReminder(appointments.ReminderEmail)
	source := &mockReminderSource{due: []DueReminder{broken, sent}}

	d := NewDispatcher(source, email, &mockSMSSender{}, nil, DispatcherConfig{}, nil, testLogger())
	if err := d.DispatchDue(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(source.failed) != 1 || source.failed[0] != broken.ReminderID {
		t.Fatalf("expected the email reminder marked failed, got %v", source.failed)
	}
	if len(source.sent) != 1 || source.sent[0] != sent.ReminderID {
		t.Fatalf("expected the SMS reminder marked sent, got %v", source.sent)
	}
}

func TestDispatchFailsChannelWithoutSender(t *testing.T) {
	r := testReminder(appointments.ReminderPush)
	source := &mockReminderSource{due: []DueReminder{r}}

	d := NewDispatcher(source, &mockEmailSender{}, &mockSMSSender{}, nil, DispatcherConfig{}, nil, testLogger())
	if err := d.DispatchDue(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(source.failed) != 1 {
		t.Fatalf("push reminder without a queue should be marked failed, got %v", source.failed)
	}
}

func TestDispatchMissingContact(t *testing.T) {
	r := testReminder(appointments.ReminderEmail)
	r.PatientEmail = ""
	source := &mockReminderSource{due: []DueReminder{r}}

	d := NewDispatcher(source, &mockEmailSender{}, nil, nil, DispatcherConfig{}, nil, testLogger())
	if err := d.DispatchDue(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(source.failed) != 1 {
		t.Fatal("reminder without a recipient address should be marked failed")
	}
}

func TestRenderSMSFallsBackToServiceType(t *testing.T) {
	r := testReminder(appointments.ReminderSMS)
	r.Title = ""
	body := renderSMS(r)
	if !strings.Contains(body, "follow_up") {
		t.Fatalf("expected service type in body, got %q", body)
	}
}
