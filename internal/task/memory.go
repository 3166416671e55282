package task

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-process registry for single-node deployments and
// tests. Records and cancel flags expire the same way the Redis registry's
// TTLs do.
type MemoryRegistry struct {
	mu     sync.RWMutex
	tasks  map[string]memoryEntry
	cancel map[string]time.Time
	opts   Options
	done   chan struct{}
	once   sync.Once
}

type memoryEntry struct {
	task      Task
	expiresAt time.Time
}

// NewMemoryRegistry creates an in-memory registry.
func NewMemoryRegistry(opts Options) *MemoryRegistry {
	opts.applyDefaults()
	r := &MemoryRegistry{
		tasks:  make(map[string]memoryEntry),
		cancel: make(map[string]time.Time),
		opts:   opts,
		done:   make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Put stores or replaces the task record.
func (r *MemoryRegistry) Put(ctx context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = memoryEntry{task: *t, expiresAt: time.Now().Add(r.opts.TaskTTL)}
	return nil
}

// Get returns a copy of the task record, or ErrTaskNotFound.
func (r *MemoryRegistry) Get(ctx context.Context, id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tasks[id]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrTaskNotFound
	}
	t := entry.task
	return &t, nil
}

// Update applies fn to the stored record under the registry lock.
func (r *MemoryRegistry) Update(ctx context.Context, id string, fn func(*Task) error) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.tasks[id]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrTaskNotFound
	}
	t := entry.task
	if err := fn(&t); err != nil {
		return nil, err
	}
	r.tasks[id] = memoryEntry{task: t, expiresAt: time.Now().Add(r.opts.TaskTTL)}
	out := t
	return &out, nil
}

// RequestCancel raises the cancellation flag for the task.
func (r *MemoryRegistry) RequestCancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel[id] = time.Now().Add(r.opts.CancelFlagTTL)
	return nil
}

// CancelRequested reports whether the cancellation flag is raised.
func (r *MemoryRegistry) CancelRequested(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	expiresAt, ok := r.cancel[id]
	return ok && time.Now().Before(expiresAt), nil
}

// Close stops the background sweeper.
func (r *MemoryRegistry) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

// sweep periodically removes expired records and flags.
func (r *MemoryRegistry) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			now := time.Now()
			r.mu.Lock()
			for id, entry := range r.tasks {
				if now.After(entry.expiresAt) {
					delete(r.tasks, id)
				}
			}
			for id, expiresAt := range r.cancel {
				if now.After(expiresAt) {
					delete(r.cancel, id)
				}
			}
			r.mu.Unlock()
		}
	}
}
