package task

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound indicates the registry has no record for the task ID.
var ErrTaskNotFound = errors.New("task not found")

// Registry persists task records and cancellation flags. Implementations
// must be safe for concurrent use by API handlers and workers.
type Registry interface {
	// Put stores or replaces the task record.
	Put(ctx context.Context, t *Task) error

	// Get returns the task record, or ErrTaskNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// Update applies fn to the stored record and persists the result.
	// fn returning an error leaves the record untouched.
	Update(ctx context.Context, id string, fn func(*Task) error) (*Task, error)

	// RequestCancel raises the cancellation flag for the task. The flag is
	// advisory: workers poll it at checkpoints and wind down cooperatively.
	RequestCancel(ctx context.Context, id string) error

	// CancelRequested reports whether the cancellation flag is raised.
	CancelRequested(ctx context.Context, id string) (bool, error)

	Close() error
}

// Options holds TTLs shared by registry implementations.
type Options struct {
	TaskTTL       time.Duration
	CancelFlagTTL time.Duration
}

func (o *Options) applyDefaults() {
	if o.TaskTTL <= 0 {
		o.TaskTTL = 24 * time.Hour
	}
	if o.CancelFlagTTL <= 0 {
		o.CancelFlagTTL = time.Hour
	}
}
