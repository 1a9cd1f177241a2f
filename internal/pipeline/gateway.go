package pipeline

import (
	"context"
	"time"
)

// DefaultPollInterval is how often the gateway re-reads the registry.
const DefaultPollInterval = 1 * time.Second

// EmitFunc delivers one event to the stream consumer. A non-nil error stops
// the stream (e.g. the underlying connection dropped).
type EmitFunc func(Event) error

// Gateway exposes task state as a continuous, cancellable event stream.
// It communicates with the orchestrator only through the registry and never
// blocks it: cancelling a stream cancels only the observation, not the work.
type Gateway struct {
	registry Registry
	interval time.Duration
}

// NewGateway returns a Gateway polling at the given interval; a non-positive
// interval falls back to DefaultPollInterval.
func NewGateway(registry Registry, interval time.Duration) *Gateway {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Gateway{registry: registry, interval: interval}
}

// Stream emits the current snapshot immediately, then polls the registry and
// emits a new event whenever status, progress, or stage changed. It returns
// after emitting a terminal event, when ctx is cancelled, or when emit fails.
// An unknown task id yields a single terminal error event.
func (g *Gateway) Stream(ctx context.Context, id TaskID, emit EmitFunc) error {
	task, ok := g.registry.Get(id)
	if !ok {
		return emit(notFoundEvent(id))
	}

	if err := emit(snapshotEvent(task)); err != nil {
		return err
	}
	if task.Status.Terminal() {
		return nil
	}
	last := task

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		task, ok := g.registry.Get(id)
		if !ok {
			// Swept mid-stream.
			return emit(notFoundEvent(id))
		}

		if !changed(last, task) {
			continue
		}
		if err := emit(snapshotEvent(task)); err != nil {
			return err
		}
		if task.Status.Terminal() {
			return nil
		}
		last = task
	}
}

func changed(prev, cur Task) bool {
	return prev.Status != cur.Status || prev.Progress != cur.Progress || prev.Stage != cur.Stage
}

// snapshotEvent converts a task snapshot to its stream event. The terminal
// event carries the full result (complete) or the error payload (error).
func snapshotEvent(t Task) Event {
	ev := Event{
		Type:     EventProgress,
		TaskID:   t.ID,
		Status:   t.Status,
		Progress: t.Progress,
		Stage:    t.Stage,
		Details:  t.Details,
	}
	switch t.Status {
	case StatusComplete:
		ev.Type = EventComplete
		ev.Result = t.Result
	case StatusError:
		ev.Type = EventError
	}
	return ev
}

func notFoundEvent(id TaskID) Event {
	return Event{
		Type:   EventError,
		TaskID: id,
		Status: StatusError,
		Details: TaskDetails{
			Message:   "task not found",
			Timestamp: time.Now().UTC(),
			Error: &ErrorInfo{
				Kind:    KindTaskNotFound,
				Message: "task not found",
			},
		},
	}
}
