package event

import (
	"errors"
	"fmt"
)

// Dispatch error kinds. Adapters map these to transport status codes;
// the pipeline maps them to responses without leaking internal detail.
var (
	ErrNotFound             = errors.New("route not found")
	ErrMethodNotAllowed     = errors.New("method not allowed")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrForbidden            = errors.New("forbidden")
	ErrTimeout              = errors.New("request timed out")
)

// ResponseError carries a structured response thrown by a handler as
// intentional control flow. The pipeline propagates it verbatim instead of
// treating it as a failure.
type ResponseError struct {
	Response *Response
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("handler response: status %d", e.Response.StatusCode)
}

// Abort builds a ResponseError with a JSON error body. Handlers use it to
// bail out of processing with a specific status.
func Abort(status int, message string) *ResponseError {
	return &ResponseError{
		Response: &Response{
			StatusCode: status,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       []byte(fmt.Sprintf(`{"error":%q}`, message)),
		},
	}
}

// AsResponseError unwraps err into a ResponseError if it is one.
func AsResponseError(err error) (*ResponseError, bool) {
	var re *ResponseError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
