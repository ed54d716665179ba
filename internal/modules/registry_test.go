package modules

import (
	"testing"

	"skylift/internal/execution"
	"skylift/pkg/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(_ *execution.Context, _ *event.Request) (any, error) { return nil, nil }

func namedRequestHook(calls *[]string, name string) RequestHookFunc {
	return func(_ *execution.Context, _ *event.Request) error {
		*calls = append(*calls, name)
		return nil
	}
}

func TestRegisterRejectsEmptyModule(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Module{Path: "empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exports no handler")
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Module{Path: "users/show", Handler: noopHandler}))
	err := r.Register(&Module{Path: "users/show", Handler: noopHandler})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestHandlerForPrefersVerbExport(t *testing.T) {
	var picked string
	m := &Module{
		Path:    "users",
		Handler: func(_ *execution.Context, _ *event.Request) (any, error) { picked = "default"; return nil, nil },
		Methods: map[string]HandlerFunc{
			"get": func(_ *execution.Context, _ *event.Request) (any, error) { picked = "get"; return nil, nil },
		},
	}
	require.NoError(t, m.normalize())

	h, ok := m.HandlerFor("GET")
	require.True(t, ok)
	_, _ = h(nil, nil)
	assert.Equal(t, "get", picked)

	h, ok = m.HandlerFor("POST")
	require.True(t, ok)
	_, _ = h(nil, nil)
	assert.Equal(t, "default", picked)
}

func TestResolveMergesAncestorScopes(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.RegisterShared("", Hooks{OnRequest: namedRequestHook(&calls, "root")})
	r.RegisterShared("users", Hooks{OnRequest: namedRequestHook(&calls, "users")})
	require.NoError(t, r.Register(&Module{Path: "users/admin/list", Handler: noopHandler}))

	m, err := r.Resolve("users/admin/list")
	require.NoError(t, err)
	require.NotNil(t, m.Hooks.OnRequest)

	require.NoError(t, m.Hooks.OnRequest(nil, nil))
	assert.Equal(t, []string{"users"}, calls, "nearest ancestor scope wins")
}

func TestResolveModuleHookOverridesParent(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.RegisterShared("users", Hooks{OnRequest: namedRequestHook(&calls, "parent")})
	require.NoError(t, r.Register(&Module{
		Path:    "users/show",
		Handler: noopHandler,
		Hooks:   Hooks{OnRequest: namedRequestHook(&calls, "module")},
	}))

	m, err := r.Resolve("users/show")
	require.NoError(t, err)
	require.NoError(t, m.Hooks.OnRequest(nil, nil))
	assert.Equal(t, []string{"module"}, calls, "only the route module's hook executes")
}

func TestExplicitDisableRemovesInheritedHook(t *testing.T) {
	r := NewRegistry()
	r.RegisterShared("", Hooks{
		Authenticate: func(_ *execution.Context, _ *event.Request) (*event.User, error) {
			return &event.User{ID: "root"}, nil
		},
	})
	require.NoError(t, r.Register(&Module{
		Path:    "public/health",
		Handler: noopHandler,
		Hooks:   Hooks{Disable: []HookKind{HookAuthenticate}},
	}))

	m, err := r.Resolve("public/health")
	require.NoError(t, err)
	assert.Nil(t, m.Hooks.Authenticate, "explicit disable beats inheritance")
}

func TestResolveMemoizesAndInvalidates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Module{Path: "users/show", Handler: noopHandler}))

	first, err := r.Resolve("users/show")
	require.NoError(t, err)
	again, err := r.Resolve("users/show")
	require.NoError(t, err)
	assert.Same(t, first, again, "resolution is memoized")

	// A shared-scope change must invalidate cached dependents.
	r.RegisterShared("users", Hooks{OnRequest: func(_ *execution.Context, _ *event.Request) error { return nil }})
	reloaded, err := r.Resolve("users/show")
	require.NoError(t, err)
	assert.NotSame(t, first, reloaded)
	assert.NotNil(t, reloaded.Hooks.OnRequest)

	r.Invalidate("users")
	afterInvalidate, err := r.Resolve("users/show")
	require.NoError(t, err)
	assert.NotSame(t, reloaded, afterInvalidate)
}

func TestResolveUnknownModule(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("missing")
	require.Error(t, err)
}
