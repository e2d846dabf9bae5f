package notify

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cabinethq/scheduling-platform/internal/appointments"
	"github.com/cabinethq/scheduling-platform/internal/observability/metrics"
	"github.com/cabinethq/scheduling-platform/pkg/logging"
)

// DispatcherConfig tunes the reminder dispatch loop.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Dispatcher polls due reminders and delivers them over the channel each
// reminder names: email, SMS, or a push handoff queue. A reminder whose
// channel has no configured sender is marked failed rather than retried.
type Dispatcher struct {
	source  ReminderSource
	email   EmailSender
	sms     SMSSender
	push    PushQueue
	metrics *metrics.DispatchMetrics
	logger  *logging.Logger
	tracer  trace.Tracer

	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
}

// NewDispatcher constructs a reminder dispatcher. Any of email, sms, and
// push may be nil; metrics may be nil.
func NewDispatcher(source ReminderSource, email EmailSender, sms SMSSender, push PushQueue, cfg DispatcherConfig, m *metrics.DispatchMetrics, logger *logging.Logger) *Dispatcher {
	if source == nil {
		panic("notify: reminder source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Dispatcher{
		source:       source,
		email:        email,
		sms:          sms,
		push:         push,
		metrics:      m,
		logger:       logger,
		tracer:       otel.Tracer("cabinet.internal.notify"),
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info("reminder dispatcher started", "poll_interval", d.pollInterval.String(), "batch_size", d.batchSize)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("reminder dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := d.DispatchDue(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("dispatch cycle failed", "error", err)
			}
		}
	}
}

// DispatchDue processes one batch of due reminders.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "notify.dispatch_due")
	defer span.End()
	start := time.Now()
	defer func() {
		d.metrics.ObservePoll(time.Since(start).Seconds())
	}()

	due, err := d.source.DueReminders(ctx, d.now(), d.batchSize)
	if err != nil {
		span.RecordError(err)
		return err
	}

	for _, r := range due {
		if err := d.deliver(ctx, r); err != nil {
			d.logger.Error("reminder delivery failed",
				"reminder_id", r.ReminderID,
				"appointment_id", r.AppointmentID,
				"type", r.Type,
				"error", err,
			)
			d.metrics.ObserveDispatch(string(r.Type), "failed")
			if err := d.source.MarkFailed(ctx, r.ReminderID); err != nil {
				d.logger.Error("failed to mark reminder failed", "reminder_id", r.ReminderID, "error", err)
			}
			continue
		}
		d.metrics.ObserveDispatch(string(r.Type), "sent")
		if err := d.source.MarkSent(ctx, r.ReminderID); err != nil {
			d.logger.Error("failed to mark reminder sent", "reminder_id", r.ReminderID, "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, r DueReminder) error {
	switch r.Type {
	case appointments.ReminderEmail:
		if d.email == nil {
			return fmt.Errorf("notify: no email sender configured")
		}
		if r.PatientEmail == "" {
			return fmt.Errorf("notify: patient %s has no email address", r.PatientID)
		}
		subject, body := renderEmail(r)
		return d.email.Send(ctx, EmailMessage{
			To:      r.PatientEmail,
			ToName:  r.PatientName,
			Subject: subject,
			Body:    body,
		})
	case appointments.ReminderSMS:
		if d.sms == nil {
			return fmt.Errorf("notify: no SMS sender configured")
		}
		if r.PatientPhone == "" {
			return fmt.Errorf("notify: patient %s has no phone number", r.PatientID)
		}
		return d.sms.SendSMS(ctx, r.PatientPhone, renderSMS(r))
	case appointments.ReminderPush:
		if d.push == nil {
			return fmt.Errorf("notify: no push queue configured")
		}
		return d.push.Publish(ctx, PushMessage{
			TenantID:      r.TenantID,
			PatientID:     r.PatientID,
			AppointmentID: r.AppointmentID,
			Title:         "Appointment starting soon",
			Body:          renderSMS(r),
			StartUTC:      r.StartUTC,
		})
	default:
		return fmt.Errorf("notify: unknown reminder type %q", r.Type)
	}
}

// localStart renders the appointment start in its display timezone, falling
// back to UTC when the stored zone is unloadable.
func localStart(r DueReminder) time.Time {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return r.StartUTC
	}
	return r.StartUTC.In(loc)
}

func renderEmail(r DueReminder) (subject, body string) {
	when := localStart(r)
	title := r.Title
	if title == "" {
		title = string(r.ServiceType)
	}
	subject = fmt.Sprintf("Reminder: %s on %s", title, when.Format("Monday, January 2"))
	body = fmt.Sprintf(`Hi %s,

This is a reminder about your upcoming appointment:

%s
%s

If you need to reschedule or cancel, please contact the clinic as soon as possible.`,
		r.PatientName, title, when.Format("Monday, January 2 at 3:04 PM"))
	return subject, body
}

func renderSMS(r DueReminder) string {
	when := localStart(r)
	title := r.Title
	if title == "" {
		title = string(r.ServiceType)
	}
	return fmt.Sprintf("Reminder: %s on %s. Reply or call the clinic to reschedule.", title, when.Format("Mon 1/2 3:04PM"))
}
