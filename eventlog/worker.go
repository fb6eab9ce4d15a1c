package eventlog

import (
	"context"
	"log/slog"
	"sync"
)

// Worker consumes events from a buffered channel and persists them in the
// background, so request handlers never block on the audit trail. Events
// are dropped, with a warning, when the buffer is full.
type Worker struct {
	eventCh chan Event
	store   Store
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorker creates a worker writing to store, buffering up to bufferSize
// events
func NewWorker(store Store, bufferSize int) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		eventCh: make(chan Event, bufferSize),
		store:   store,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the background consumer
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.ctx.Done():
				slog.Info("draining events before shutdown", "remaining_events", len(w.eventCh))
				for len(w.eventCh) > 0 {
					event := <-w.eventCh
					if err := w.store.Save(context.Background(), event); err != nil {
						slog.Error("failed to save event during shutdown", "error", err, "event_type", event.Type)
					}
				}
				return
			case event := <-w.eventCh:
				if err := w.store.Save(w.ctx, event); err != nil {
					slog.Error("failed to save event", "error", err, "event_type", event.Type)
				}
			}
		}
	}()
}

// Log queues an event for persistence. Never blocks.
func (w *Worker) Log(event Event) {
	select {
	case w.eventCh <- event:
	default:
		slog.Warn("event channel full, dropping event", "event_type", event.Type)
	}
}

// Shutdown stops the worker after draining queued events
func (w *Worker) Shutdown() {
	w.cancel()
	w.wg.Wait()
}
