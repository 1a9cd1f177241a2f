package pipeline

// TaskStore is the persistence abstraction for task state.
// Implementations can be in-memory, file-based, or remote.
// The Registry uses TaskStore for all reads and writes; callers of Registry
// do not need to know which TaskStore is used.
type TaskStore interface {
	GetTask(id TaskID) (Task, bool)
	SetTask(t Task)
	DeleteTask(id TaskID)
	ListTaskIDs() []TaskID
}

// InMemoryTaskStore is an in-memory implementation of TaskStore. Task state
// is intentionally volatile: a process restart loses all entries.
type InMemoryTaskStore struct {
	tasks map[TaskID]Task
}

// NewInMemoryTaskStore returns a new empty in-memory store.
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks: make(map[TaskID]Task),
	}
}

// GetTask implements TaskStore.GetTask.
func (s *InMemoryTaskStore) GetTask(id TaskID) (Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// SetTask implements TaskStore.SetTask.
func (s *InMemoryTaskStore) SetTask(t Task) {
	s.tasks[t.ID] = t
}

// DeleteTask implements TaskStore.DeleteTask.
func (s *InMemoryTaskStore) DeleteTask(id TaskID) {
	delete(s.tasks, id)
}

// ListTaskIDs implements TaskStore.ListTaskIDs.
func (s *InMemoryTaskStore) ListTaskIDs() []TaskID {
	ids := make([]TaskID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}
