package services

import "sync"

// keyMutex serializes work per delivery id. Two nearly-simultaneous pings
// for the same delivery must not both observe the old status and both derive
// the same transition; holding the per-key lock across read, persist and
// derive closes that race. Entries are reference-counted so the map does not
// grow with the id space.
type keyMutex struct {
	mu    sync.Mutex
	locks map[uint]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[uint]*keyLock)}
}

// Lock acquires the lock for key and returns the matching unlock func.
func (m *keyMutex) Lock(key uint) func() {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}
