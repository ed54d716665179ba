package httpdispatch

import (
	"net/http"

	"skylift/internal/routes"
	"skylift/pkg/event"
)

const corsAllowHeaders = "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Correlation-ID"

// preflightResponse answers an OPTIONS preflight for a CORS-enabled route
// with allow-methods computed from the route's declared method set. It runs
// before any body, method, or auth check.
func preflightResponse(route *routes.Route) *event.Response {
	return &event.Response{
		StatusCode: http.StatusNoContent,
		Headers: map[string]string{
			"Access-Control-Allow-Origin":  "*",
			"Access-Control-Allow-Methods": allowedMethods(route),
			"Access-Control-Allow-Headers": corsAllowHeaders,
			"Access-Control-Max-Age":       "86400",
		},
	}
}

// finishCORS merges CORS headers into a response for CORS-enabled routes,
// leaving any header the handler already set untouched.
func finishCORS(resp *event.Response, route *routes.Route) *event.Response {
	if !route.CORS {
		return resp
	}
	if !resp.HasHeader("Access-Control-Allow-Origin") {
		resp.SetHeader("Access-Control-Allow-Origin", "*")
	}
	return resp
}
