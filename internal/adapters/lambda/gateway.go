package lambda

import (
	"context"
	"net/http"
	"strings"

	"skylift/pkg/event"
	"skylift/pkg/server"

	"github.com/aws/aws-lambda-go/events"
)

// FromAPIGatewayRequest converts an API Gateway proxy event to a generic
// request.
func FromAPIGatewayRequest(e events.APIGatewayProxyRequest) *event.Request {
	req := &event.Request{
		Method:      e.HTTPMethod,
		Path:        e.Path,
		Headers:     e.Headers,
		QueryParams: e.QueryStringParameters,
		PathParams:  e.PathParameters,
		Body:        []byte(e.Body),
		SourceIP:    e.RequestContext.Identity.SourceIP,
	}
	req.Cookies = parseCookies(req.Header("Cookie"))
	return req
}

// ToAPIGatewayResponse converts a generic response to an API Gateway proxy
// response.
func ToAPIGatewayResponse(resp *event.Response) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       string(resp.Body),
	}
}

// GatewayHandler returns a Lambda handler that funnels API Gateway proxy
// events through the HTTP dispatch pipeline.
func GatewayHandler() func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return func(ctx context.Context, e events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		container, err := server.GetWarmManager().GetContainer(ctx)
		if err != nil {
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusInternalServerError,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       `{"error":"Internal server error"}`,
			}, nil
		}

		resp := container.HTTP.Dispatch(ctx, FromAPIGatewayRequest(e))
		return ToAPIGatewayResponse(resp), nil
	}
}

// parseCookies splits a Cookie header into name/value pairs.
func parseCookies(header string) map[string]string {
	if header == "" {
		return nil
	}
	cookies := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if found && name != "" {
			cookies[name] = value
		}
	}
	return cookies
}
