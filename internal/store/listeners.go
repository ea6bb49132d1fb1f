package store

import "sync"

// Listener is called after a room changed. It runs outside the store lock
// and may read from the store.
type Listener func(room string)

type listeners struct {
	mu   sync.RWMutex
	next int
	fns  map[int]Listener
}

// Subscribe registers fn and returns a function that removes it.
func (l *listeners) Subscribe(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]Listener)
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(room string) {
	l.mu.RLock()
	fns := make([]Listener, 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(room)
	}
}
