// Package convlock serializes operations per conversation id, so two
// goroutines handling the same conversation never interleave a ratchet
// step, while unrelated conversations never block on each other
// (spec.md §5). Grounded on the teacher's session.go HandshakeTracker,
// generalized from one global sync.RWMutex-guarded map to one mutex per
// key, stored in a sync.Map so the lock table itself needs no coarse
// lock to grow.
package convlock

import "sync"

// Table holds one *sync.Mutex per key, created lazily on first use.
type Table struct {
	mus sync.Map // [32]byte -> *sync.Mutex
}

func New() *Table {
	return &Table{}
}

// Lock blocks until key's mutex is acquired and returns an unlock
// function, so callers can write `defer t.Lock(id)()`.
func (t *Table) Lock(key [32]byte) func() {
	v, _ := t.mus.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
