package queuedispatch

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// FIFOSuffix is the reserved queue-name suffix that selects the FIFO
// discipline.
const FIFOSuffix = ".fifo"

// DefaultTimeoutSeconds applies when a queue declares no timeout.
const DefaultTimeoutSeconds = 30

var queueNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Definition declares one queue: its name (which also encodes the FIFO
// flag), the per-message timeout, and the consumer module.
type Definition struct {
	Name           string `validate:"required"`
	TimeoutSeconds int    `validate:"omitempty,min=1,max=500"`
	Module         string `validate:"required"`
}

// FIFO reports whether the queue uses the ordered discipline.
func (d *Definition) FIFO() bool { return strings.HasSuffix(d.Name, FIFOSuffix) }

// Timeout returns the configured per-message timeout, defaulted.
func (d *Definition) Timeout() time.Duration {
	if d.TimeoutSeconds > 0 {
		return time.Duration(d.TimeoutSeconds) * time.Second
	}
	return DefaultTimeoutSeconds * time.Second
}

// baseName strips the reserved suffix for name validation.
func (d *Definition) baseName() string { return strings.TrimSuffix(d.Name, FIFOSuffix) }

// Registry holds the declared queues. Built at cold start, read-only
// afterwards apart from dev hot reload.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]*Definition
	validate *validator.Validate
}

// NewRegistry creates an empty queue registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]*Definition),
		validate: validator.New(),
	}
}

// Register validates and stores a queue definition. Invalid names or
// timeouts fail fast at startup.
func (r *Registry) Register(d *Definition) error {
	if err := r.validate.Struct(d); err != nil {
		return fmt.Errorf("queue %q: invalid definition: %w", d.Name, err)
	}
	base := d.baseName()
	if base == "" || len(base) > 40 || !queueNameRe.MatchString(base) {
		return fmt.Errorf("queue %q: name must be 1-40 alphanumeric, dash, or underscore characters", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[d.Name]; exists {
		return fmt.Errorf("queue %q already registered", d.Name)
	}
	r.defs[d.Name] = d
	return nil
}

// Lookup returns the definition for a queue name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Names lists the registered queue names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	return names
}
