package lambda

import (
	"context"
	"strconv"
	"strings"
	"time"

	"skylift/pkg/event"
	"skylift/pkg/server"

	"github.com/aws/aws-lambda-go/events"
)

// fallbackBudget bounds message processing when the invocation carries no
// deadline, as under local SAM-style invocation.
const fallbackBudget = 15 * time.Minute

// FromSQSMessage converts one SQS record to a generic queue message.
func FromSQSMessage(m events.SQSMessage) *event.Message {
	msg := &event.Message{
		ID:             m.MessageId,
		Queue:          queueNameFromARN(m.EventSourceARN),
		Body:           []byte(m.Body),
		GroupID:        m.Attributes["MessageGroupId"],
		DedupeID:       m.Attributes["MessageDeduplicationId"],
		SequenceNumber: m.Attributes["SequenceNumber"],
		ReceiptHandle:  m.ReceiptHandle,
	}

	if count, err := strconv.Atoi(m.Attributes["ApproximateReceiveCount"]); err == nil {
		msg.ReceiveCount = count
	}
	if ms, err := strconv.ParseInt(m.Attributes["SentTimestamp"], 10, 64); err == nil {
		msg.SentAt = time.UnixMilli(ms)
	}
	if attr, ok := m.MessageAttributes["content-type"]; ok && attr.StringValue != nil {
		msg.ContentType = *attr.StringValue
	}
	if attr, ok := m.MessageAttributes["user-id"]; ok && attr.StringValue != nil {
		msg.UserID = *attr.StringValue
	}

	return msg
}

// QueueHandler returns a Lambda handler that dispatches SQS batches through
// the queue engine. Failed messages are reported as partial batch failures
// so only they return to the queue.
func QueueHandler() func(context.Context, events.SQSEvent) (events.SQSEventResponse, error) {
	return func(ctx context.Context, e events.SQSEvent) (events.SQSEventResponse, error) {
		container, err := server.GetWarmManager().GetContainer(ctx)
		if err != nil {
			return failWholeBatch(e), nil
		}

		msgs := make([]*event.Message, 0, len(e.Records))
		for _, record := range e.Records {
			msgs = append(msgs, FromSQSMessage(record))
		}

		result := container.Engine.HandleBatch(ctx, msgs, remainingBudget(ctx))

		resp := events.SQSEventResponse{}
		for _, id := range result.FailedIDs {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: id,
			})
		}
		return resp, nil
	}
}

// remainingBudget derives the per-invocation time budget from the Lambda
// deadline.
func remainingBudget(ctx context.Context) func() time.Duration {
	return func() time.Duration {
		if deadline, ok := ctx.Deadline(); ok {
			return time.Until(deadline)
		}
		return fallbackBudget
	}
}

func failWholeBatch(e events.SQSEvent) events.SQSEventResponse {
	resp := events.SQSEventResponse{}
	for _, record := range e.Records {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
			ItemIdentifier: record.MessageId,
		})
	}
	return resp
}

// queueNameFromARN extracts the queue name from an event source ARN.
func queueNameFromARN(arn string) string {
	if idx := strings.LastIndex(arn, ":"); idx >= 0 {
		return arn[idx+1:]
	}
	return arn
}
