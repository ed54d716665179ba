package modules

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry is the explicit, injectable module store. Modules are keyed by
// canonical path; shared middleware is keyed by directory scope ("" is the
// root scope). Resolution memoizes the merged result; Invalidate drops a
// module and its cached dependents for development hot reload.
//
// Reads are concurrent and lock-free in the hot path apart from an RWMutex
// read lock; writes happen only at cold start or hot reload.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
	shared  map[string]Hooks
	merged  map[string]*Module
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]*Module),
		shared:  make(map[string]Hooks),
		merged:  make(map[string]*Module),
	}
}

// Register adds a handler module, validating its shape once.
func (r *Registry) Register(m *Module) error {
	if err := m.normalize(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[m.Path]; exists {
		return fmt.Errorf("module %q already registered", m.Path)
	}
	r.modules[m.Path] = m
	delete(r.merged, m.Path)
	logrus.WithField("module", m.Path).Debug("Module registered")
	return nil
}

// RegisterShared declares directory-scoped shared middleware. Scope "" is
// the root; "users" applies to every module under users/.
func (r *Registry) RegisterShared(scope string, hooks Hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shared[scope] = hooks
	// Cached merges under this scope are stale now.
	for path := range r.merged {
		if scopeCovers(scope, path) {
			delete(r.merged, path)
		}
	}
}

// Resolve loads a module with its effective middleware chain: the module's
// own hooks (highest precedence), then each ancestor directory's shared
// hooks out to the root (lowest). The merge is computed once and memoized.
func (r *Registry) Resolve(path string) (*Module, error) {
	r.mu.RLock()
	if m, ok := r.merged[path]; ok {
		r.mu.RUnlock()
		return m, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.merged[path]; ok {
		return m, nil
	}

	registered, ok := r.modules[path]
	if !ok {
		return nil, fmt.Errorf("module %q not registered", path)
	}

	effective := Hooks{}
	for _, scope := range scopeChain(path) {
		if hooks, declared := r.shared[scope]; declared {
			effective = mergeHooks(effective, hooks)
		}
	}
	effective = mergeHooks(effective, registered.Hooks)

	resolved := *registered
	resolved.Hooks = effective
	r.merged[path] = &resolved
	return &resolved, nil
}

// Invalidate drops a module path (or a shared scope) from the memoized
// cache so the next resolve recomputes it. Dependent cached entries under
// a shared scope are dropped too. Used by dev-mode file watching.
func (r *Registry) Invalidate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.merged, path)
	for cached := range r.merged {
		if scopeCovers(path, cached) {
			delete(r.merged, cached)
		}
	}
	logrus.WithField("module", path).Debug("Module cache invalidated")
}

// Paths returns the registered module paths, sorted, for route building
// and the dev server listing.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.modules))
	for p := range r.modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// scopeChain lists the shared-middleware scopes that apply to a module
// path, root first. "users/admin/show" -> ["", "users", "users/admin"].
func scopeChain(path string) []string {
	scopes := []string{""}
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		scopes = append(scopes, strings.Join(parts[:i], "/"))
	}
	return scopes
}

// scopeCovers reports whether a scope contains a module path.
func scopeCovers(scope, path string) bool {
	if scope == "" {
		return true
	}
	return path == scope || strings.HasPrefix(path, scope+"/")
}

// mergeHooks overlays a closer scope onto the hooks inherited so far.
// Non-nil hooks at the closer scope win; an entry in Disable removes an
// inherited hook even when the closer scope leaves the field nil.
func mergeHooks(inherited, closer Hooks) Hooks {
	out := inherited
	out.Disable = nil
	if closer.Authenticate != nil {
		out.Authenticate = closer.Authenticate
	}
	if closer.OnRequest != nil {
		out.OnRequest = closer.OnRequest
	}
	if closer.OnResponse != nil {
		out.OnResponse = closer.OnResponse
	}
	if closer.OnError != nil {
		out.OnError = closer.OnError
	}
	for _, kind := range closer.Disable {
		switch kind {
		case HookAuthenticate:
			out.Authenticate = nil
		case HookOnRequest:
			out.OnRequest = nil
		case HookOnResponse:
			out.OnResponse = nil
		case HookOnError:
			out.OnError = nil
		}
	}
	return out
}
