package lambda

import (
	"context"
	"net/http"

	"skylift/pkg/event"
	"skylift/pkg/server"

	"github.com/aws/aws-lambda-go/events"
)

// FromWebsocketRequest converts a WebSocket proxy event's handshake data to
// a generic request.
func FromWebsocketRequest(e events.APIGatewayWebsocketProxyRequest) *event.Request {
	req := &event.Request{
		Method:      "WS",
		Path:        e.RequestContext.RouteKey,
		Headers:     e.Headers,
		QueryParams: e.QueryStringParameters,
		Body:        []byte(e.Body),
		SourceIP:    e.RequestContext.Identity.SourceIP,
	}
	req.Cookies = parseCookies(req.Header("Cookie"))
	return req
}

// SocketHandler returns a Lambda handler that dispatches WebSocket proxy
// events by route key: $connect and $disconnect manage the connection
// registry, everything else is an inbound frame.
func SocketHandler() func(context.Context, events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	return func(ctx context.Context, e events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
		container, err := server.GetWarmManager().GetContainer(ctx)
		if err != nil {
			return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
		}

		connID := e.RequestContext.ConnectionID

		switch e.RequestContext.RouteKey {
		case "$connect":
			resp := container.WS.HandleConnect(ctx, connID, FromWebsocketRequest(e))
			return events.APIGatewayProxyResponse{StatusCode: resp.StatusCode}, nil

		case "$disconnect":
			if err := container.WS.HandleDisconnect(ctx, connID); err != nil {
				// Disconnects are best effort; the socket is already gone.
				return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
			}
			return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil

		default:
			frame := &event.Frame{ConnectionID: connID, Data: []byte(e.Body)}
			if err := container.WS.HandleMessage(ctx, frame); err != nil {
				return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
			}
			return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
		}
	}
}
