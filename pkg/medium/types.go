// Package medium defines the shared key/value medium that viewer instances
// use to reach each other: last-write-wins key slots, enumeration, and change
// notification that is never delivered to the writer itself.
package medium

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("medium closed")

// Change is a notification that another writer modified a key. It is only
// emitted when the value actually changed.
type Change struct {
	Key      string `json:"key"`
	OldValue string `json:"old,omitempty"`
	NewValue string `json:"new,omitempty"`
	// HadOld is false when the key did not exist before the write.
	HadOld  bool `json:"hadOld,omitempty"`
	Deleted bool `json:"deleted,omitempty"`
}

// Medium is one participant's handle on the shared medium.
type Medium interface {
	// Set writes value to key. Writing the current value again notifies nobody.
	Set(ctx context.Context, key, value string) error
	// Get returns the value of key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Delete removes key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
	// Keys enumerates every key currently present.
	Keys(ctx context.Context) ([]string, error)
	// Subscribe registers the handler for changes made by other participants.
	Subscribe(ctx context.Context, subscriber Subscriber) error
	// Close unregisters the subscriber and releases resources.
	Close(ctx context.Context) error
}

// Subscriber handles changes made by other participants.
type Subscriber interface {
	Handle(ctx context.Context, change Change) error
}

// SubscriberFunc is a helper function that implements Subscriber interface
type SubscriberFunc func(ctx context.Context, change Change) error

func (f SubscriberFunc) Handle(ctx context.Context, change Change) error {
	return f(ctx, change)
}
