package state

// Change describes one assignment to a Store.
type Change struct {
	Before  CompositeState
	After   CompositeState
	Version uint64
}

// SideChanged reports whether the given side differs between Before and After.
func (c Change) SideChanged(side Side) bool {
	return !c.Before.Side(side).Equal(c.After.Side(side))
}

type subscription struct {
	id int
	fn func(Change)
}

// Store holds the composite state of one instance and notifies subscribers
// synchronously on every assignment, whatever its source. It is not safe for
// concurrent use; callers serialize access through the instance event loop.
type Store struct {
	current CompositeState
	version uint64
	subs    []subscription
	nextID  int
}

func NewStore(initial CompositeState) *Store {
	return &Store{current: initial.Clone()}
}

// Current returns a snapshot that the caller may modify freely.
func (s *Store) Current() CompositeState {
	return s.current.Clone()
}

func (s *Store) Side(side Side) SideState {
	return s.current.Side(side).Clone()
}

// Version counts assignments since the store was created.
func (s *Store) Version() uint64 {
	return s.version
}

// Apply replaces the state unconditionally. Callers validate the update first.
func (s *Store) Apply(next CompositeState) {
	before := s.current
	s.current = next.Clone()
	s.version++
	change := Change{Before: before.Clone(), After: s.current.Clone(), Version: s.version}
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	for _, sub := range subs {
		sub.fn(change)
	}
}

// Update applies fn to a copy of one side and assigns the result.
func (s *Store) Update(side Side, fn func(*SideState)) {
	next := s.Current()
	sideState := next.Side(side)
	fn(&sideState)
	next.SetSide(side, sideState)
	s.Apply(next)
}

// OnChange subscribes fn to every assignment. The returned func unsubscribes.
func (s *Store) OnChange(fn func(Change)) func() {
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	return func() {
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}
