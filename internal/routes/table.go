package routes

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// DefaultTimeoutSeconds applies when a route declares no timeout.
const DefaultTimeoutSeconds = 30

// Route maps a compiled path pattern to a handler module and its
// constraints. Routes are immutable once the table is built.
type Route struct {
	Pattern        string   `validate:"required"`
	Methods        []string // empty or containing "*" accepts any method
	ContentTypes   []string // MIME patterns, defaulted to */*
	CORS           bool
	TimeoutSeconds int `validate:"omitempty,min=1,max=900"`

	// CacheSeconds derives a Cache-Control header on cacheable responses.
	// CacheControl, when set, computes the header from the handler result
	// instead and takes precedence.
	CacheSeconds int `validate:"omitempty,min=0,max=31536000"`
	CacheControl func(result any) string
	NoETag       bool

	Module string `validate:"required"`
	Queue  string

	compiled *Pattern
}

// AllowsMethod reports whether the route accepts the HTTP method.
func (r *Route) AllowsMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if m == "*" || strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// AcceptsContentType reports whether the route accepts the media type.
// Patterns are exact matches or `type/*` wildcards; `*/*` accepts anything.
func (r *Route) AcceptsContentType(mediaType string) bool {
	accepted := r.ContentTypes
	if len(accepted) == 0 {
		return true
	}
	mediaType = strings.ToLower(mediaType)
	for _, pattern := range accepted {
		pattern = strings.ToLower(pattern)
		if pattern == "*/*" || pattern == mediaType {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
			if strings.HasPrefix(mediaType, prefix+"/") {
				return true
			}
		}
	}
	return false
}

// Timeout returns the route timeout in seconds, defaulted.
func (r *Route) Timeout() int {
	if r.TimeoutSeconds > 0 {
		return r.TimeoutSeconds
	}
	return DefaultTimeoutSeconds
}

// Match is the transient result of resolving a path: the route plus its
// extracted parameters. Discarded after one dispatch.
type Match struct {
	Route  *Route
	Params map[string]string
}

// Table is the compiled, read-only route lookup structure. Built once at
// cold start; on dev hot reload a replacement table is built and swapped in
// wholesale through a Holder.
type Table struct {
	routes []*Route
}

// NewTable compiles and validates the declared routes. Construction fails
// on the first invalid pattern, invalid config, or signature collision;
// callers treat that as startup-fatal.
func NewTable(declared []*Route) (*Table, error) {
	validate := validator.New()
	signatures := make(map[string]string, len(declared))
	table := &Table{routes: make([]*Route, 0, len(declared))}

	for _, route := range declared {
		if err := validate.Struct(route); err != nil {
			return nil, fmt.Errorf("route %q: invalid config: %w", route.Pattern, err)
		}

		compiled, err := CompilePattern(route.Pattern)
		if err != nil {
			return nil, err
		}

		sig := compiled.Signature()
		if prior, collision := signatures[sig]; collision {
			return nil, fmt.Errorf("route %q collides with %q: identical signature %q", route.Pattern, prior, sig)
		}
		signatures[sig] = route.Pattern

		for i, m := range route.Methods {
			route.Methods[i] = strings.ToUpper(m)
		}
		if len(route.ContentTypes) == 0 {
			route.ContentTypes = []string{"*/*"}
		}

		route.compiled = compiled
		table.routes = append(table.routes, route)
	}

	logrus.WithField("routes", len(table.routes)).Debug("Route table built")
	return table, nil
}

// Resolve matches a request path against the table. When more than one
// route matches (possible only through catch-alls), the match extracting
// the fewest parameters wins.
func (t *Table) Resolve(path string) (*Match, bool) {
	var best *Match
	for _, route := range t.routes {
		params, ok := route.compiled.Match(path)
		if !ok {
			continue
		}
		if best == nil || len(params) < len(best.Params) {
			best = &Match{Route: route, Params: params}
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// Routes returns the table contents for introspection (dev server route
// listing). The slice must not be mutated.
func (t *Table) Routes() []*Route { return t.routes }

// Holder publishes the active table to concurrent readers. Hot reload in
// development builds a full replacement table and swaps it in; dispatches
// in flight keep the table they already read.
type Holder struct {
	mu    sync.RWMutex
	table *Table
}

// NewHolder wraps an initial table.
func NewHolder(t *Table) *Holder { return &Holder{table: t} }

// Current returns the published table.
func (h *Holder) Current() *Table {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.table
}

// Swap publishes a replacement table.
func (h *Holder) Swap(t *Table) {
	h.mu.Lock()
	h.table = t
	h.mu.Unlock()
}
