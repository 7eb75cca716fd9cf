package session

import "sync"

// Observer is notified after the shared session changes.
// ok is false when the new value is "no session".
type Observer func(s Session, ok bool)

// State is the process-wide current session, or none.
// It is safe for concurrent use.
type State struct {
	// notifyMu serializes Set so observers see changes in the order they
	// were applied.
	notifyMu sync.Mutex

	mu        sync.Mutex
	current   Session
	ok        bool
	nextID    int
	observers map[int]Observer
	order     []int
}

// NewState creates a State holding no session.
func NewState() *State {
	return &State{observers: make(map[int]Observer)}
}

// Current returns the current session and whether one is held.
func (st *State) Current() (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current, st.ok
}

// Set replaces the current value. A nil s means "no session".
// Observers run synchronously, in subscription order, and only when the
// value differs from the previous one. Concurrent calls are serialized, so
// the last notification always carries the current value. Observers may
// call Current but must not call Set.
func (st *State) Set(s *Session) {
	var next Session
	ok := s != nil
	if ok {
		next = *s
	}

	st.notifyMu.Lock()
	defer st.notifyMu.Unlock()

	st.mu.Lock()
	if ok == st.ok && next == st.current {
		st.mu.Unlock()
		return
	}
	st.current, st.ok = next, ok
	observers := make([]Observer, 0, len(st.order))
	for _, id := range st.order {
		observers = append(observers, st.observers[id])
	}
	st.mu.Unlock()

	for _, fn := range observers {
		fn(next, ok)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (st *State) Subscribe(fn Observer) (unsubscribe func()) {
	st.mu.Lock()
	defer st.mu.Unlock()

	id := st.nextID
	st.nextID++
	st.observers[id] = fn
	st.order = append(st.order, id)

	return func() {
		st.mu.Lock()
		defer st.mu.Unlock()

		if _, ok := st.observers[id]; !ok {
			return
		}
		delete(st.observers, id)
		for i, v := range st.order {
			if v == id {
				st.order = append(st.order[:i], st.order[i+1:]...)
				break
			}
		}
	}
}
