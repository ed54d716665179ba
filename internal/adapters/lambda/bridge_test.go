package lambda

import (
	"context"
	"net/http"
	"testing"
	"time"

	"skylift/internal/config"
	"skylift/internal/execution"
	"skylift/internal/modules"
	"skylift/internal/routes"
	"skylift/pkg/event"
	"skylift/pkg/server"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAPIGatewayRequest(t *testing.T) {
	e := events.APIGatewayProxyRequest{
		HTTPMethod:            "POST",
		Path:                  "/users/42",
		Headers:               map[string]string{"Content-Type": "application/json", "Cookie": "session=abc; theme=dark"},
		QueryStringParameters: map[string]string{"verbose": "1"},
		PathParameters:        map[string]string{"id": "42"},
		Body:                  `{"name":"ada"}`,
	}
	e.RequestContext.Identity.SourceIP = "10.0.0.1"

	req := FromAPIGatewayRequest(e)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/users/42", req.Path)
	assert.Equal(t, "application/json", req.ContentType())
	assert.Equal(t, "1", req.QueryParams["verbose"])
	assert.Equal(t, "42", req.PathParams["id"])
	assert.Equal(t, "10.0.0.1", req.SourceIP)
	assert.Equal(t, map[string]string{"session": "abc", "theme": "dark"}, req.Cookies)
}

func TestFromSQSMessage(t *testing.T) {
	contentType := "application/json"
	userID := "u-1"
	m := events.SQSMessage{
		MessageId:      "m1",
		ReceiptHandle:  "rh-1",
		Body:           `{"order":1}`,
		EventSourceARN: "arn:aws:sqs:us-east-1:123456789012:orders.fifo",
		Attributes: map[string]string{
			"MessageGroupId":          "g1",
			"MessageDeduplicationId":  "d1",
			"SequenceNumber":          "100",
			"ApproximateReceiveCount": "3",
			"SentTimestamp":           "1700000000000",
		},
		MessageAttributes: map[string]events.SQSMessageAttribute{
			"content-type": {StringValue: &contentType},
			"user-id":      {StringValue: &userID},
		},
	}

	msg := FromSQSMessage(m)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "orders.fifo", msg.Queue)
	assert.Equal(t, "g1", msg.GroupID)
	assert.Equal(t, "d1", msg.DedupeID)
	assert.Equal(t, "100", msg.SequenceNumber)
	assert.Equal(t, 3, msg.ReceiveCount)
	assert.Equal(t, time.UnixMilli(1700000000000), msg.SentAt)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "u-1", msg.UserID)
	assert.Equal(t, "rh-1", msg.ReceiptHandle)
}

func TestJobName(t *testing.T) {
	assert.Equal(t, "cleanup", JobName(events.CloudWatchEvent{Detail: []byte(`{"job":"cleanup"}`)}))
	assert.Equal(t, "Scheduled Event", JobName(events.CloudWatchEvent{DetailType: "Scheduled Event"}))
}

func TestRemainingBudget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	assert.LessOrEqual(t, remainingBudget(ctx)(), time.Minute)
	assert.Equal(t, fallbackBudget, remainingBudget(context.Background())())
}

func TestGatewayHandlerEndToEnd(t *testing.T) {
	cfg := &config.Config{Environment: "test", LogLevel: "error"}
	app := &server.App{
		Modules: []*modules.Module{{
			Path: "api/ping",
			Handler: func(_ *execution.Context, req *event.Request) (any, error) {
				return map[string]string{"pong": req.PathParams["id"]}, nil
			},
		}},
		Routes: []*routes.Route{{
			Pattern: "/ping/:id",
			Methods: []string{"GET"},
			Module:  "api/ping",
		}},
	}
	require.NoError(t, server.GetWarmManager().Initialize(cfg, app))

	handler := GatewayHandler()
	resp, err := handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: "GET",
		Path:       "/ping/7",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"pong":"7"}`, resp.Body)
}
