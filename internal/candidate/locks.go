package candidate

import "sync"

// Locker serializes mutations per candidate ID. State transitions read,
// evaluate, and write under the candidate's lock so concurrent updates to
// different candidates proceed in parallel while updates to the same
// candidate are ordered.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*entryLock)}
}

// Lock acquires the lock for id and returns its release function. Entries
// are reference counted and removed once the last holder releases.
func (l *Locker) Lock(id string) func() {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &entryLock{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
