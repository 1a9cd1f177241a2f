package pipeline

import (
	"sync"
	"time"
)

// Registry defines the concurrency-safe contract for accessing and mutating
// task state. The orchestrator is the only writer of stage progress; the
// push gateway reads snapshots concurrently and must never observe a
// partially-written task.
type Registry interface {
	// Create inserts a new task with status pending and progress 0.
	// It returns ErrTaskExists if the id is already present.
	Create(id TaskID, input TrackInput) (Task, error)

	// Get returns a snapshot of the task, or false if the id is unknown.
	Get(id TaskID) (Task, bool)

	// Update applies an atomic read-modify-write. The mutator receives the
	// current task value and returns the fully replaced task. Mutations of
	// a task already in a terminal state are ignored and the stored task is
	// returned unchanged. Returns ErrTaskNotFound for unknown ids.
	Update(id TaskID, mutate func(Task) Task) (Task, error)

	// Sweep removes tasks whose last update is older than maxAge and
	// returns the number of removed entries.
	Sweep(maxAge time.Duration) int

	// ActiveTaskCount returns the number of tasks that are not terminal.
	// Used for metrics.
	ActiveTaskCount() int
}

// InMemoryRegistry is a concurrency-safe in-memory implementation of Registry.
// It uses a TaskStore for persistence; by default that is an InMemoryTaskStore.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	store TaskStore
	now   func() time.Time
}

// NewInMemoryRegistry constructs a registry with a default in-memory store.
func NewInMemoryRegistry() *InMemoryRegistry {
	return NewInMemoryRegistryWithStore(NewInMemoryTaskStore())
}

// NewInMemoryRegistryWithStore constructs a registry that uses the given
// TaskStore. Useful for testing or for plugging in a different backend.
func NewInMemoryRegistryWithStore(store TaskStore) *InMemoryRegistry {
	return &InMemoryRegistry{store: store, now: time.Now}
}

// Create implements Registry.Create.
func (r *InMemoryRegistry) Create(id TaskID, input TrackInput) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetTask(id); exists {
		return Task{}, ErrTaskExists
	}

	now := r.now().UTC()
	t := Task{
		ID:       id,
		Status:   StatusPending,
		Progress: 0,
		Stage:    StageQueued,
		Details: TaskDetails{
			Message:   "task accepted",
			Timestamp: now,
			Stage:     StageQueued,
		},
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.store.SetTask(t)
	return t, nil
}

// Get implements Registry.Get.
func (r *InMemoryRegistry) Get(id TaskID) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.GetTask(id)
}

// Update implements Registry.Update.
func (r *InMemoryRegistry) Update(id TaskID, mutate func(Task) Task) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.store.GetTask(id)
	if !ok {
		return Task{}, ErrTaskNotFound
	}

	// Terminal states are final; further mutations are idempotent no-ops.
	if current.Status.Terminal() {
		return current, nil
	}

	next := mutate(current)
	next.ID = current.ID
	next.Input = current.Input
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = r.now().UTC()

	// Progress is monotone while processing.
	if next.Progress < current.Progress {
		next.Progress = current.Progress
	}

	r.store.SetTask(next)
	return next, nil
}

// Sweep implements Registry.Sweep.
func (r *InMemoryRegistry) Sweep(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().UTC().Add(-maxAge)
	removed := 0
	for _, id := range r.store.ListTaskIDs() {
		if t, ok := r.store.GetTask(id); ok && t.UpdatedAt.Before(cutoff) {
			r.store.DeleteTask(id)
			removed++
		}
	}
	return removed
}

// ActiveTaskCount implements Registry.ActiveTaskCount.
func (r *InMemoryRegistry) ActiveTaskCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListTaskIDs() {
		if t, ok := r.store.GetTask(id); ok && !t.Status.Terminal() {
			n++
		}
	}
	return n
}
