package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

// PushQueue hands push reminders off to the mobile notification pipeline.
// Delivery to devices happens downstream; the dispatcher's job ends once the
// message is queued.
type PushQueue interface {
	Publish(ctx context.Context, msg PushMessage) error
}

// PushMessage is the handoff payload for one push reminder.
type PushMessage struct {
	ID            string    `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	StartUTC      time.Time `json:"start_utc"`
}

// SQSPushQueue implements PushQueue backed by AWS/LocalStack SQS.
type SQSPushQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSPushQueue creates a queue wrapper around the provided SQS client.
func NewSQSPushQueue(client *sqs.Client, queueURL string) *SQSPushQueue {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	return &SQSPushQueue{
		client:   client,
		queueURL: queueURL,
	}
}

// Publish sends the push payload to the handoff queue.
func (q *SQSPushQueue) Publish(ctx context.Context, msg PushMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: failed to encode push payload: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("notify: failed to send SQS message: %w", err)
	}
	return nil
}

var _ PushQueue = (*SQSPushQueue)(nil)
