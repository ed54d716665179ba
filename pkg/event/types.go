package event

import (
	"mime"
	"net/textproto"
	"strings"
	"time"
)

// Request represents a transport-agnostic HTTP request handed to the
// dispatch pipeline by an adapter (API Gateway, local dev server, ...).
type Request struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_params"`
	Cookies     map[string]string `json:"cookies"`
	Body        []byte            `json:"body"`
	PathParams  map[string]string `json:"path_params"`
	SourceIP    string            `json:"source_ip"`
}

// Header returns a header value by case-insensitive name.
func (r *Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	for k, v := range r.Headers {
		if textproto.CanonicalMIMEHeaderKey(k) == canonical {
			return v
		}
	}
	return ""
}

// ContentType returns the request media type with any parameters
// (charset, boundary) stripped, lower-cased.
func (r *Request) ContentType() string {
	raw := r.Header("Content-Type")
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(raw, ";")[0]))
	}
	return mediaType
}

// Response represents a transport-agnostic HTTP response produced by the
// dispatch pipeline.
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}

// SetHeader sets a header, allocating the map on first use.
func (r *Response) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[name] = value
}

// HasHeader reports whether a header is already set, case-insensitively.
func (r *Response) HasHeader(name string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	for k := range r.Headers {
		if textproto.CanonicalMIMEHeaderKey(k) == canonical {
			return true
		}
	}
	return false
}

// User is the authenticated principal for one event. ID must be a stable
// identifier; everything else is whatever the authenticate hook supplied.
type User struct {
	ID     string         `json:"id"`
	Name   string         `json:"name,omitempty"`
	Email  string         `json:"email,omitempty"`
	Roles  []string       `json:"roles,omitempty"`
	Claims map[string]any `json:"claims,omitempty"`
}

// Message is one inbound queue message, materialized from the transport
// batch. FIFO-only attributes are empty on standard queues.
type Message struct {
	ID             string    `json:"id"`
	Queue          string    `json:"queue"`
	Body           []byte    `json:"body"`
	ContentType    string    `json:"content_type"`
	GroupID        string    `json:"group_id,omitempty"`
	DedupeID       string    `json:"dedupe_id,omitempty"`
	SequenceNumber string    `json:"sequence_number,omitempty"`
	ReceiveCount   int       `json:"receive_count"`
	SentAt         time.Time `json:"sent_at"`
	UserID         string    `json:"user_id,omitempty"`

	// ReceiptHandle identifies the delivery attempt for deletion.
	ReceiptHandle string `json:"receipt_handle,omitempty"`
}

// OutboundMessage is a message emitted from within a handler through the
// execution context's emit capability.
type OutboundMessage struct {
	Queue    string `json:"queue"`
	Body     []byte `json:"body"`
	GroupID  string `json:"group_id,omitempty"`
	DedupeID string `json:"dedupe_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// BatchResult reports which messages of a batch failed and must be
// redelivered. Successes are implicit.
type BatchResult struct {
	FailedIDs []string `json:"failed_ids"`
}

// Frame is one inbound WebSocket frame together with its connection.
type Frame struct {
	ConnectionID string `json:"connection_id"`
	Data         []byte `json:"data"`
}
