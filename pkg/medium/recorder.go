package medium

import (
	"context"
	"sync"
)

// Recorder is a Subscriber that keeps every change it receives. Used for testing.
type Recorder struct {
	mu      sync.Mutex
	changes []Change
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Handle(ctx context.Context, change Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	return nil
}

// Changes returns and clears the recorded changes.
func (r *Recorder) Changes() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.changes
	r.changes = nil
	return out
}

// Len returns the number of changes recorded since the last Changes call.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

var _ Subscriber = (*Recorder)(nil)
