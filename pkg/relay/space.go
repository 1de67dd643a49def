package relay

import (
	"fmt"
	"sort"
	"sync"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/viewsync/pkg/medium"
)

// KeysRoot is the map in a space document that holds the medium's keys.
const KeysRoot = "keys"

// Space is one named shared medium hosted by the relay. Its keys live in an
// automerge document so that every write is kept as a change in the
// document history, which is what gets backed up and rendered.
type Space struct {
	name string

	mu       sync.Mutex
	doc      *automerge.Doc
	sessions map[*session]struct{}
	dirty    bool
}

func newSpace(name string, doc *automerge.Doc) (*Space, error) {
	if doc == nil {
		doc = automerge.New()
	}
	v, err := doc.Path(KeysRoot).Get()
	if err != nil || v.Kind() != automerge.KindMap {
		if err := doc.Path(KeysRoot).Set(map[string]interface{}{}); err != nil {
			return nil, fmt.Errorf("failed to create keys map: %w", err)
		}
		if _, err := doc.Commit("init " + name); err != nil {
			return nil, fmt.Errorf("failed to commit keys map: %w", err)
		}
	}
	return &Space{name: name, doc: doc, sessions: make(map[*session]struct{})}, nil
}

func (s *Space) Name() string {
	return s.name
}

func (s *Space) lookup(key string) (string, bool, error) {
	v, err := s.doc.Path(KeysRoot, key).Get()
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if v.Kind() != automerge.KindStr {
		return "", false, nil
	}
	return v.Str(), true, nil
}

// Set writes key and returns the change to announce, if any.
func (s *Space) Set(key, value string) (*medium.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, had, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if had && old == value {
		return nil, nil
	}
	if err := s.doc.Path(KeysRoot, key).Set(value); err != nil {
		return nil, fmt.Errorf("failed to set %s: %w", key, err)
	}
	if _, err := s.doc.Commit("set " + key); err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", key, err)
	}
	s.dirty = true
	return &medium.Change{Key: key, OldValue: old, HadOld: had, NewValue: value}, nil
}

func (s *Space) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(key)
}

func (s *Space) Delete(key string) (*medium.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, had, err := s.lookup(key)
	if err != nil || !had {
		return nil, err
	}
	if err := s.doc.Path(KeysRoot).Map().Delete(key); err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if _, err := s.doc.Commit("delete " + key); err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", key, err)
	}
	s.dirty = true
	return &medium.Change{Key: key, OldValue: old, HadOld: true, Deleted: true}, nil
}

func (s *Space) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.doc.Path(KeysRoot).Map().Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Values returns every key with its value.
func (s *Space) Values() (map[string]string, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok, err := s.lookup(k); err != nil {
			return nil, err
		} else if ok {
			out[k] = v
		}
	}
	return out, nil
}

// Save serializes the space document.
func (s *Space) Save() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

// takeDirty returns the saved document when it changed since the last call.
func (s *Space) takeDirty() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil, false
	}
	s.dirty = false
	return s.doc.Save(), true
}

// Fork returns an independent copy of the document for read-only use.
func (s *Space) Fork() (*automerge.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Fork()
}

func (s *Space) join(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
}

func (s *Space) leave(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// peers returns every session except origin.
func (s *Space) peers(origin *session) []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		if sess != origin {
			out = append(out, sess)
		}
	}
	return out
}
