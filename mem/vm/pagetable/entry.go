package pagetable

import "sync/atomic"

// An Entry is one slot of a node. An entry is either zero (empty) or holds a
// complete descriptor; it is only ever written with a single atomic store so
// that concurrent readers never see a half-written value.
type Entry struct {
	v atomic.Uint64
}

// Load reads the raw descriptor.
func (e *Entry) Load() uint64 {
	return e.v.Load()
}

// IsNone tells if the entry is empty.
func (e *Entry) IsNone() bool {
	return e.v.Load() == 0
}

// publish fills an empty entry. It returns false if the entry was not empty.
func (e *Entry) publish(v uint64) bool {
	return e.v.CompareAndSwap(0, v)
}
