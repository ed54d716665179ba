package queuedispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"skylift/internal/execution"
	"skylift/internal/modules"
	"skylift/internal/payloadstore"
	"skylift/pkg/event"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Deleter removes a successfully processed message from the source queue.
// The SQS implementation lives in the transport adapter; local dev mode
// runs with deletion disabled.
type Deleter interface {
	Delete(ctx context.Context, msg *event.Message) error
}

// DeleterFunc adapts a function to the Deleter interface.
type DeleterFunc func(ctx context.Context, msg *event.Message) error

func (f DeleterFunc) Delete(ctx context.Context, msg *event.Message) error { return f(ctx, msg) }

// Engine consumes inbound message batches. A batch belongs to exactly one
// queue; the discipline (standard or FIFO) is classified from the first
// message's queue name.
type Engine struct {
	queues   *Registry
	modules  *modules.Registry
	deleter  Deleter
	emitter  event.Emitter
	payloads payloadstore.Store
	local    bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDeleter wires the source-queue deletion capability.
func WithDeleter(d Deleter) EngineOption {
	return func(e *Engine) { e.deleter = d }
}

// WithEmitter injects the emit capability into message execution contexts.
func WithEmitter(em event.Emitter) EngineOption {
	return func(e *Engine) { e.emitter = em }
}

// WithLocalMode disables source-queue deletion entirely; the local dev
// loop owns message lifecycles itself.
func WithLocalMode() EngineOption {
	return func(e *Engine) { e.local = true }
}

// WithPayloadStore wires the store used to resolve offloaded bodies.
func WithPayloadStore(store payloadstore.Store) EngineOption {
	return func(e *Engine) { e.payloads = store }
}

// NewEngine creates a queue dispatch engine.
func NewEngine(queues *Registry, registry *modules.Registry, opts ...EngineOption) *Engine {
	e := &Engine{queues: queues, modules: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleBatch processes one inbound batch and returns the ids that must be
// redelivered. remaining reports the invocation's remaining time budget;
// nil means unbounded.
func (e *Engine) HandleBatch(ctx context.Context, msgs []*event.Message, remaining func() time.Duration) *event.BatchResult {
	result := &event.BatchResult{}
	if len(msgs) == 0 {
		return result
	}

	queueName := msgs[0].Queue
	log := logrus.WithFields(logrus.Fields{"queue": queueName, "batch_size": len(msgs)})

	def, ok := e.queues.Lookup(queueName)
	if !ok {
		log.Error("Batch received for unregistered queue; failing every message")
		return failAll(msgs)
	}

	module, err := e.modules.Resolve(def.Module)
	if err != nil {
		log.WithError(err).Error("Queue consumer module failed to load; failing every message")
		return failAll(msgs)
	}
	if module.OnMessage == nil {
		log.WithField("module", def.Module).Error("Queue consumer module exports no message handler; failing every message")
		return failAll(msgs)
	}

	if def.FIFO() {
		result.FailedIDs = e.runFIFO(ctx, def, module, msgs, remaining, log)
	} else {
		result.FailedIDs = e.runStandard(ctx, def, module, msgs, remaining, log)
	}
	return result
}

// runStandard processes every message concurrently and independently; the
// failure of one never affects its siblings.
func (e *Engine) runStandard(ctx context.Context, def *Definition, module *modules.Module, msgs []*event.Message, remaining func() time.Duration, log *logrus.Entry) []string {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)
	for _, msg := range msgs {
		wg.Add(1)
		go func(m *event.Message) {
			defer wg.Done()
			if err := e.processOne(ctx, def, module, m, remaining, log); err != nil {
				mu.Lock()
				failed = append(failed, m.ID)
				mu.Unlock()
			}
		}(msg)
	}
	wg.Wait()
	return failed
}

// runFIFO processes messages strictly in arrival order, one at a time. The
// first failure stops the batch: that message and every remaining one are
// reported failed so redelivery preserves order. An explicit sequential
// loop with early exit, deliberately not recursive.
func (e *Engine) runFIFO(ctx context.Context, def *Definition, module *modules.Module, msgs []*event.Message, remaining func() time.Duration, log *logrus.Entry) []string {
	for i, msg := range msgs {
		if err := e.processOne(ctx, def, module, msg, remaining, log); err != nil {
			failed := make([]string, 0, len(msgs)-i)
			for _, rest := range msgs[i:] {
				failed = append(failed, rest.ID)
			}
			log.WithFields(logrus.Fields{
				"message_id": msg.ID,
				"deferred":   len(failed) - 1,
			}).Warn("FIFO batch halted; deferring remaining messages to preserve order")
			return failed
		}
	}
	return nil
}

// processOne runs the handler for one message under the smaller of the
// queue timeout and the remaining invocation budget, deleting the message
// on success.
func (e *Engine) processOne(parent context.Context, def *Definition, module *modules.Module, msg *event.Message, remaining func() time.Duration, log *logrus.Entry) error {
	budget := def.Timeout()
	if remaining != nil {
		if left := remaining(); left < budget {
			budget = left
		}
	}
	if budget <= 0 {
		log.WithField("message_id", msg.ID).Warn("Invocation budget exhausted; failing message without invoking handler")
		return fmt.Errorf("message %s: %w", msg.ID, event.ErrTimeout)
	}

	payloadKey, perr := resolveOffload(parent, e.payloads, msg)
	if perr != nil {
		log.WithField("message_id", msg.ID).WithError(perr).Error("Failed to resolve offloaded payload")
		return perr
	}

	if msg.ContentType == "" {
		msg.ContentType = InferContentType(msg.Body)
	}

	opts := []execution.Option{execution.WithEmitter(e.emitter)}
	if msg.UserID != "" {
		opts = append(opts, execution.WithUser(&event.User{ID: msg.UserID}))
	}
	ec := execution.New(parent, budget, opts...)
	defer ec.Close()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- module.OnMessage(ec, msg)
	}()

	var err error
	select {
	case err = <-done:
	case <-ec.Done():
		// Cooperative cancellation only: the signal has fired and the
		// handler is no longer awaited.
		err = fmt.Errorf("message %s: %w", msg.ID, event.ErrTimeout)
	}

	if err != nil {
		log.WithFields(logrus.Fields{
			"message_id":    msg.ID,
			"receive_count": msg.ReceiveCount,
		}).WithError(err).Error("Message handler failed")
		if module.OnMessageError != nil {
			runMessageErrorHook(ec, module.OnMessageError, msg, err)
		}
		return err
	}

	if !e.local && e.deleter != nil {
		if derr := e.deleter.Delete(parent, msg); derr != nil {
			// The handler succeeded; a failed delete means a duplicate
			// delivery, which at-least-once consumers must tolerate.
			log.WithField("message_id", msg.ID).WithError(derr).Warn("Failed to delete processed message")
		}
	}
	if payloadKey != "" {
		if derr := e.payloads.Delete(parent, payloadKey); derr != nil {
			log.WithField("payload_ref", payloadKey).WithError(derr).Warn("Failed to delete offloaded payload")
		}
	}
	return nil
}

// runMessageErrorHook invokes a queue module's onError hook best-effort;
// its own panic is swallowed and logged, never propagated.
func runMessageErrorHook(ec *execution.Context, hook modules.MessageErrorHookFunc, msg *event.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			ec.Log().WithField("panic", fmt.Sprint(r)).Warn("Queue onError hook panicked")
		}
	}()
	hook(ec, msg, err)
}

func failAll(msgs []*event.Message) *event.BatchResult {
	result := &event.BatchResult{FailedIDs: make([]string, 0, len(msgs))}
	for _, m := range msgs {
		result.FailedIDs = append(result.FailedIDs, m.ID)
	}
	return result
}

// InferContentType sniffs a message body when the transport carried no
// explicit type attribute: well-formed JSON is application/json, anything
// else is treated as plain text.
func InferContentType(body []byte) string {
	if gjson.ValidBytes(body) {
		return "application/json"
	}
	return "text/plain"
}
