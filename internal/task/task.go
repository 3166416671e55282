// Package task holds the lifecycle model for deck generation tasks and the
// registry that persists it.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cinedeck/cinedeck/internal/domain"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending   State = "Pending"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	StateCancelled State = "Cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Task is the persisted record of one deck generation run.
type Task struct {
	ID           string           `json:"id"`
	State        State            `json:"state"`
	Progress     string           `json:"progress,omitempty"`
	CurrentSlide int              `json:"currentSlide,omitempty"`
	TotalSlides  int              `json:"totalSlides,omitempty"`
	ArtifactRef  string           `json:"artifactRef,omitempty"`
	ErrorCode    domain.ErrorCode `json:"errorCode,omitempty"`
	ErrorDetail  string           `json:"errorDetail,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// NewTask creates a fresh task in the Pending state.
func NewTask() *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.NewString(),
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// transition moves the task to next, rejecting any change out of a terminal
// state.
func (t *Task) transition(next State) error {
	if t.State.Terminal() {
		return fmt.Errorf("task %s is %s: cannot transition to %s", t.ID, t.State, next)
	}
	t.State = next
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkRunning moves the task from Pending to Running.
func (t *Task) MarkRunning(totalSlides int) error {
	if err := t.transition(StateRunning); err != nil {
		return err
	}
	t.TotalSlides = totalSlides
	return nil
}

// SetStage records a coarse pipeline stage message for status callers
// between slide-level progress updates.
func (t *Task) SetStage(message string) error {
	if t.State.Terminal() {
		return fmt.Errorf("task %s is %s: cannot update progress", t.ID, t.State)
	}
	t.Progress = message
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// SetProgress records the slide currently being processed.
func (t *Task) SetProgress(current, total int) error {
	if t.State.Terminal() {
		return fmt.Errorf("task %s is %s: cannot update progress", t.ID, t.State)
	}
	t.CurrentSlide = current
	t.TotalSlides = total
	t.Progress = fmt.Sprintf("Processing slide %d of %d", current, total)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSucceeded finishes the task with a reference to its artifact.
func (t *Task) MarkSucceeded(artifactRef string) error {
	if err := t.transition(StateSucceeded); err != nil {
		return err
	}
	t.ArtifactRef = artifactRef
	t.Progress = ""
	return nil
}

// MarkFailed finishes the task with a structured error.
func (t *Task) MarkFailed(err error) error {
	if terr := t.transition(StateFailed); terr != nil {
		return terr
	}
	t.ErrorCode = domain.CodeOf(err)
	if err != nil {
		t.ErrorDetail = err.Error()
	}
	t.Progress = ""
	return nil
}

// MarkCancelled finishes the task as cancelled by the caller.
func (t *Task) MarkCancelled() error {
	if err := t.transition(StateCancelled); err != nil {
		return err
	}
	t.ErrorCode = domain.CodeCancelled
	t.Progress = ""
	return nil
}
