// Package app declares the application wired into the shipped entrypoints:
// a small task service exercising HTTP routes, a worker queue, a WebSocket
// channel and a scheduled cleanup job. Deployments swap this package for
// their own definition.
package app

import (
	"encoding/json"
	"fmt"
	"sync"

	"skylift/internal/execution"
	"skylift/internal/modules"
	"skylift/internal/queuedispatch"
	"skylift/internal/routes"
	"skylift/internal/sched"
	"skylift/pkg/event"
	"skylift/pkg/server"

	"github.com/google/uuid"
)

// Task is the demo domain entity.
type Task struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Owner string `json:"owner,omitempty"`
	Done  bool   `json:"done"`
}

// taskStore is a process-local store; real deployments use a database.
type taskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func (s *taskStore) put(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

func (s *taskStore) get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *taskStore) list() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

func (s *taskStore) prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, t := range s.tasks {
		if t.Done {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}

// Definition assembles the application: modules, routes, queues and jobs.
func Definition() *server.App {
	store := &taskStore{tasks: make(map[string]*Task)}

	createTask := func(ec *execution.Context, req *event.Request) (any, error) {
		var in struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(req.Body, &in); err != nil || in.Title == "" {
			return nil, event.Abort(400, "a task needs a title")
		}

		task := &Task{ID: uuid.New().String(), Title: in.Title}
		if u := ec.User(); u != nil {
			task.Owner = u.ID
		}
		store.put(task)

		body, _ := json.Marshal(task)
		if err := ec.Emit(event.OutboundMessage{Queue: "tasks", Body: body}); err != nil {
			ec.Log().WithError(err).Warn("Failed to enqueue task notification")
		}
		return &event.Response{StatusCode: 201, Body: body,
			Headers: map[string]string{"Content-Type": "application/json"}}, nil
	}

	getTask := func(_ *execution.Context, req *event.Request) (any, error) {
		task, ok := store.get(req.PathParams["id"])
		if !ok {
			return nil, event.Abort(404, "no such task")
		}
		return task, nil
	}

	listTasks := func(_ *execution.Context, _ *event.Request) (any, error) {
		return store.list(), nil
	}

	processTask := func(ec *execution.Context, msg *event.Message) error {
		var task Task
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			return fmt.Errorf("malformed task message: %w", err)
		}
		task.Done = true
		store.put(&task)
		ec.Log().WithField("task_id", task.ID).Info("Task processed")
		return nil
	}

	echoFrame := func(_ *execution.Context, payload any) (any, error) {
		return map[string]any{"echo": payload}, nil
	}

	cleanup := func(ec *execution.Context) error {
		ec.Log().WithField("removed", store.prune()).Info("Completed task cleanup")
		return nil
	}

	return &server.App{
		Modules: []*modules.Module{
			{Path: "api/tasks", Methods: map[string]modules.HandlerFunc{
				"GET":  listTasks,
				"POST": createTask,
			}},
			{Path: "api/tasks/get", Handler: getTask},
			{Path: "workers/tasks", OnMessage: processTask},
			{Path: "socket/echo", OnFrame: echoFrame},
			{Path: "jobs/cleanup", OnSchedule: cleanup},
		},
		Routes: []*routes.Route{
			{Pattern: "/tasks", Methods: []string{"GET", "POST"}, Module: "api/tasks",
				ContentTypes: []string{"application/json"}, CORS: true},
			{Pattern: "/tasks/:id", Methods: []string{"GET"}, Module: "api/tasks/get",
				CORS: true, CacheSeconds: 30},
		},
		Queues: []*queuedispatch.Definition{
			{Name: "tasks", Module: "workers/tasks"},
		},
		Jobs: []*sched.Job{
			{Name: "cleanup", Module: "jobs/cleanup"},
		},
		SocketDefault: "socket/echo",
	}
}
