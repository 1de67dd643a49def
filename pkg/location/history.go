// Package location models the address bar and session history an instance is
// displayed under: a stack of URLs with push, replace and back/forward
// traversal, and notification of every change of the current entry.
package location

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

const (
	// QueryState is the query parameter carrying the serialized state.
	QueryState = "q"
	// QueryLink is the query parameter carrying a link invitation channel.
	QueryLink = "link"

	projectPrefix = "/project/"
)

// Change describes a move of the current history entry.
type Change struct {
	Before *url.URL
	After  *url.URL
}

// History is safe for concurrent use. Observers are called synchronously
// after the move, outside the lock.
type History struct {
	mu        sync.Mutex
	entries   []*url.URL
	index     int
	observers map[int]func(Change)
	nextID    int
}

func New(initial string) (*History, error) {
	u, err := url.Parse(initial)
	if err != nil {
		return nil, fmt.Errorf("failed to parse initial url: %w", err)
	}
	return &History{entries: []*url.URL{u}, observers: make(map[int]func(Change))}, nil
}

func clone(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}

// Current returns a copy of the current entry.
func (h *History) Current() *url.URL {
	h.mu.Lock()
	defer h.mu.Unlock()
	return clone(h.entries[h.index])
}

func (h *History) Query(key string) string {
	return h.Current().Query().Get(key)
}

// Len returns the number of entries in the history stack.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// OnChange registers fn for every change of the current entry.
func (h *History) OnChange(fn func(Change)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.observers[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.observers, id)
	}
}

func (h *History) move(fn func() bool) {
	h.mu.Lock()
	before := clone(h.entries[h.index])
	if !fn() {
		h.mu.Unlock()
		return
	}
	change := Change{Before: before, After: clone(h.entries[h.index])}
	observers := make([]func(Change), 0, len(h.observers))
	for _, o := range h.observers {
		observers = append(observers, o)
	}
	h.mu.Unlock()
	for _, o := range observers {
		o(change)
	}
}

// Push adds u after the current entry, discarding any forward entries.
func (h *History) Push(u *url.URL) {
	h.move(func() bool {
		h.entries = append(h.entries[:h.index+1], clone(u))
		h.index++
		return true
	})
}

// Replace swaps the current entry for u without adding history.
func (h *History) Replace(u *url.URL) {
	h.move(func() bool {
		h.entries[h.index] = clone(u)
		return true
	})
}

// Navigate pushes the parsed raw url, as when the user edits the address bar.
func (h *History) Navigate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse url: %w", err)
	}
	h.Push(u)
	return nil
}

func (h *History) Back() bool {
	moved := false
	h.move(func() bool {
		if h.index == 0 {
			return false
		}
		h.index--
		moved = true
		return true
	})
	return moved
}

func (h *History) Forward() bool {
	moved := false
	h.move(func() bool {
		if h.index == len(h.entries)-1 {
			return false
		}
		h.index++
		moved = true
		return true
	})
	return moved
}

// WithQuery returns a copy of u with key set to value, or removed when value is empty.
func WithQuery(u *url.URL, key, value string) *url.URL {
	out := clone(u)
	q := out.Query()
	if value == "" {
		q.Del(key)
	} else {
		q.Set(key, value)
	}
	out.RawQuery = q.Encode()
	return out
}

// ProjectFromPath returns the project named by a /project/<name> path.
func ProjectFromPath(u *url.URL) (string, bool) {
	if !strings.HasPrefix(u.Path, projectPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(u.Path, projectPrefix)
	return name, name != ""
}

// IsProjectPath reports whether u shows a project view.
func IsProjectPath(u *url.URL) bool {
	return strings.HasPrefix(u.Path, projectPrefix)
}

// ProjectPath returns the path of the view for project.
func ProjectPath(project string) string {
	return projectPrefix + project
}
