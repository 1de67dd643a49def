// Package loop provides the single-threaded event loop an instance runs on.
// Callbacks posted from any goroutine run one at a time, to completion, in
// posting order.
package loop

import (
	"context"
	"sync"
)

// Poster accepts callbacks to run on an instance's loop.
type Poster interface {
	Post(fn func())
}

type Queue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

func New() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Post schedules fn. It never blocks and is safe to call from callbacks.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	fn := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return fn, true
}

// Drain runs posted callbacks, including ones they post, until none are left.
// It returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for {
		fn, ok := q.next()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

// Run drains callbacks as they are posted until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.Drain()
		select {
		case <-q.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// compile-time interface assertions
var _ Poster = (*Queue)(nil)
