package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"skylift/internal/execution"
	"skylift/internal/modules"
	"skylift/pkg/event"
)

// Job declares one scheduled job: its name, the handler module, and the
// invocation timeout.
type Job struct {
	Name           string
	Module         string
	TimeoutSeconds int
}

func (j *Job) timeout() time.Duration {
	if j.TimeoutSeconds > 0 {
		return time.Duration(j.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// Dispatcher invokes scheduled-job handlers under a timeout. Jobs are
// registered at cold start.
type Dispatcher struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	modules *modules.Registry
	emitter event.Emitter
}

// NewDispatcher creates a scheduled-job dispatcher.
func NewDispatcher(registry *modules.Registry, emitter event.Emitter) *Dispatcher {
	return &Dispatcher{jobs: make(map[string]*Job), modules: registry, emitter: emitter}
}

// Register declares a job.
func (d *Dispatcher) Register(job *Job) error {
	if job.Name == "" || job.Module == "" {
		return fmt.Errorf("scheduled job requires a name and a module")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.jobs[job.Name]; exists {
		return fmt.Errorf("scheduled job %q already registered", job.Name)
	}
	d.jobs[job.Name] = job
	return nil
}

// Dispatch runs one job invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, name string) error {
	d.mu.RLock()
	job, ok := d.jobs[name]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("scheduled job %q not registered", name)
	}

	module, err := d.modules.Resolve(job.Module)
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	if module.OnSchedule == nil {
		return fmt.Errorf("job %q: module %q exports no schedule handler", name, job.Module)
	}

	ec := execution.New(ctx, job.timeout(), execution.WithEmitter(d.emitter))
	defer ec.Close()

	log := ec.Log().WithField("job", name)
	log.Debug("Scheduled job starting")

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- module.OnSchedule(ec)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.WithError(err).Error("Scheduled job failed")
			return fmt.Errorf("job %q failed: %w", name, err)
		}
		log.Debug("Scheduled job completed")
		return nil
	case <-ec.Done():
		log.Warn("Scheduled job timed out")
		return fmt.Errorf("job %q: %w", name, event.ErrTimeout)
	}
}

// Jobs lists the registered job names for the dev server.
func (d *Dispatcher) Jobs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.jobs))
	for n := range d.jobs {
		names = append(names, n)
	}
	return names
}
