package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/imrishuroy/go-coupon-issuance/internal/aws"
)

// MessageSender is satisfied by aws.Publisher.
type MessageSender interface {
	Send(ctx context.Context, m aws.Message) error
}

// SQSPublisher sends each event as a JSON message body. Events of one request
// share a message group, so a FIFO queue keeps them in order.
type SQSPublisher struct {
	sender MessageSender
}

func NewSQSPublisher(sender MessageSender) *SQSPublisher {
	return &SQSPublisher{sender: sender}
}

func (p *SQSPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	retries := strconv.Itoa(ev.RetryCount)
	err = p.sender.Send(ctx, aws.Message{
		Body: string(body),
		Attributes: map[string]string{
			"event_type":  string(ev.Type),
			"request_id":  ev.RequestID,
			"status":      ev.Status,
			"retry_count": retries,
		},
		GroupID:         ev.RequestID,
		DeduplicationID: ev.RequestID + ":" + string(ev.Type) + ":" + retries,
	})
	if err != nil {
		return fmt.Errorf("sqs publish %s: %w", ev.RequestID, err)
	}
	return nil
}
