// Package frame hands out zero-filled physical page frames.
package frame

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/memalloc/mem/mem"
)

// Log2PageSize is the log2 of the frame size.
const Log2PageSize = 12

// PageSize is the number of bytes in a frame.
const PageSize uint64 = 1 << Log2PageSize

// ErrOutOfMemory is returned when no frame can be provided.
var ErrOutOfMemory = errors.New("out of memory")

// A Frame is a page-aligned block of physical memory.
type Frame struct {
	Number uint64
	Addr   uint64
}

// NumberOf returns the frame number that holds the physical address.
func NumberOf(pAddr uint64) uint64 {
	return pAddr >> Log2PageSize
}

// AddrOf returns the physical address that the frame number starts at.
func AddrOf(number uint64) uint64 {
	return number << Log2PageSize
}

// An Allocator provides frames.
type Allocator interface {
	// Acquire returns a zero-filled frame or ErrOutOfMemory. It never blocks
	// and never retries.
	Acquire() (Frame, error)
}

// Usage reports how many frames an allocator has handed out. Touched counts
// the frames whose content has been written.
type Usage struct {
	InUse   uint64
	Total   uint64
	Touched uint64
}

// StorageAllocator carves frames out of a Storage in address order.
type StorageAllocator struct {
	sync.Mutex

	storage   *mem.Storage
	next      uint64
	numFrames uint64
	limit     uint64
}

// Acquire returns the next free frame, cleared to zero.
func (a *StorageAllocator) Acquire() (Frame, error) {
	a.Lock()
	defer a.Unlock()

	if a.next >= a.numFrames || (a.limit > 0 && a.next >= a.limit) {
		return Frame{}, ErrOutOfMemory
	}

	f := Frame{Number: a.next, Addr: AddrOf(a.next)}

	err := a.storage.Zero(f.Addr)
	if err != nil {
		return Frame{}, fmt.Errorf("zeroing frame %d: %w", f.Number, err)
	}

	a.next++

	return f, nil
}

// Usage returns the number of frames handed out and the number of frames
// that can be handed out in total.
func (a *StorageAllocator) Usage() Usage {
	a.Lock()
	defer a.Unlock()

	total := a.numFrames
	if a.limit > 0 && a.limit < total {
		total = a.limit
	}

	return Usage{
		InUse:   a.next,
		Total:   total,
		Touched: uint64(a.storage.TouchedUnits()),
	}
}

// Storage returns the storage that backs the frames.
func (a *StorageAllocator) Storage() *mem.Storage {
	return a.storage
}
