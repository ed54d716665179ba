package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"skylift/internal/config"
)

// WarmManager keeps the container alive across Lambda invocations so warm
// starts skip registry construction and connection setup.
type WarmManager struct {
	container   *Container
	lastUsed    time.Time
	mu          sync.RWMutex
	initialized bool
	initOnce    sync.Once
	config      *config.Config
	app         *App
	opts        []Option
}

var (
	globalWarmManager *WarmManager
	warmManagerOnce   sync.Once
)

// GetWarmManager returns the global warm-container manager instance
func GetWarmManager() *WarmManager {
	warmManagerOnce.Do(func() {
		globalWarmManager = &WarmManager{}
	})
	return globalWarmManager
}

// Initialize initializes the manager with configuration and the
// application definition. Safe to call from every adapter's init.
func (wm *WarmManager) Initialize(cfg *config.Config, app *App, opts ...Option) error {
	var initErr error
	wm.initOnce.Do(func() {
		wm.mu.Lock()
		defer wm.mu.Unlock()

		wm.config = cfg
		wm.app = app
		wm.opts = opts

		container, err := NewContainer(cfg, app, opts...)
		if err != nil {
			initErr = err
			return
		}

		wm.container = container
		wm.lastUsed = time.Now()
		wm.initialized = true
	})

	return initErr
}

// GetContainer returns the container, initializing if necessary
func (wm *WarmManager) GetContainer(ctx context.Context) (*Container, error) {
	wm.mu.RLock()
	if wm.initialized && wm.container != nil {
		wm.lastUsed = time.Now()
		container := wm.container
		wm.mu.RUnlock()
		return container, nil
	}
	app := wm.app
	opts := wm.opts
	wm.mu.RUnlock()

	if app == nil {
		return nil, fmt.Errorf("warm manager not initialized with an application definition")
	}

	cfg, err := config.GetOptimizedConfig()
	if err != nil {
		return nil, err
	}
	if err := wm.Initialize(cfg, app, opts...); err != nil {
		return nil, err
	}

	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.container, nil
}

// IsHealthy checks if the manager holds a live container
func (wm *WarmManager) IsHealthy() bool {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	if !wm.initialized || wm.container == nil {
		return false
	}

	// Check if the container is stale (older than 5 minutes)
	return time.Since(wm.lastUsed) < 5*time.Minute
}

// Cleanup performs cleanup operations
func (wm *WarmManager) Cleanup() error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if wm.container != nil {
		if err := wm.container.Close(); err != nil {
			return err
		}
		wm.container = nil
	}

	wm.initialized = false
	return nil
}

// UpdateLastUsed updates the last used timestamp
func (wm *WarmManager) UpdateLastUsed() {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.lastUsed = time.Now()
}
