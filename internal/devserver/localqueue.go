package devserver

import (
	"context"
	"sync"
	"time"

	"skylift/internal/queuedispatch"
	"skylift/pkg/event"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// localBudget is the per-message budget stand-in for the Lambda deadline.
const localBudget = time.Minute

// localLoop feeds emitted messages back into the queue engine in-process.
// Messages that fail locally are logged and dropped; there is no redelivery
// outside real queue infrastructure.
type localLoop struct {
	ch   chan *event.Message
	wg   sync.WaitGroup
	once sync.Once
}

func newLocalLoop() *localLoop {
	return &localLoop{ch: make(chan *event.Message, 256)}
}

// Emit implements event.Emitter as the container's transport.
func (l *localLoop) Emit(ctx context.Context, msg event.OutboundMessage) error {
	m := &event.Message{
		ID:           uuid.New().String(),
		Queue:        msg.Queue,
		Body:         msg.Body,
		GroupID:      msg.GroupID,
		DedupeID:     msg.DedupeID,
		UserID:       msg.UserID,
		ReceiveCount: 1,
		SentAt:       time.Now(),
	}

	select {
	case l.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *localLoop) start(engine *queuedispatch.Engine) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for msg := range l.ch {
			result := engine.HandleBatch(context.Background(), []*event.Message{msg},
				func() time.Duration { return localBudget })
			if len(result.FailedIDs) > 0 {
				logrus.WithFields(logrus.Fields{
					"queue":      msg.Queue,
					"message_id": msg.ID,
				}).Warn("Message failed locally and was dropped")
			}
		}
	}()
}

func (l *localLoop) stop() {
	l.once.Do(func() {
		close(l.ch)
		l.wg.Wait()
	})
}
