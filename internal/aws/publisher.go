package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is one SQS message. GroupID and DeduplicationID are only sent to
// FIFO queues.
type Message struct {
	Body            string
	Attributes      map[string]string
	GroupID         string
	DeduplicationID string
}

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	fifo     bool
}

// NewPublisher returns a Publisher bound to a queue URL. A URL ending in
// ".fifo" marks a FIFO queue.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Send delivers m. Empty attribute values are dropped since SQS rejects them.
func (p *Publisher) Send(ctx context.Context, m Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &m.Body,
	}
	if len(m.Attributes) > 0 {
		attrs := make(map[string]sqstypes.MessageAttributeValue, len(m.Attributes))
		for k, v := range m.Attributes {
			if v == "" {
				continue
			}
			attrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = attrs
	}
	if p.fifo {
		if m.GroupID == "" {
			return fmt.Errorf("send message: fifo queue %s needs a group id", p.QueueURL)
		}
		input.MessageGroupId = awsString(m.GroupID)
		if m.DeduplicationID != "" {
			input.MessageDeduplicationId = awsString(m.DeduplicationID)
		}
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
