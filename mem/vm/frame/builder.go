package frame

import "github.com/sarchlab/memalloc/mem/mem"

// A Builder can build StorageAllocators.
type Builder struct {
	capacity   uint64
	storage    *mem.Storage
	frameLimit uint64
}

// MakeBuilder returns a Builder with 64 MiB of physical memory.
func MakeBuilder() Builder {
	return Builder{
		capacity: 64 * mem.MB,
	}
}

// WithCapacity sets the size of the physical memory. It is ignored when a
// storage is provided.
func (b Builder) WithCapacity(capacity uint64) Builder {
	b.capacity = capacity
	return b
}

// WithStorage sets the storage that backs the frames.
func (b Builder) WithStorage(storage *mem.Storage) Builder {
	b.storage = storage
	return b
}

// WithFrameLimit caps the number of frames the allocator hands out. Zero
// means no cap beyond the capacity.
func (b Builder) WithFrameLimit(n uint64) Builder {
	b.frameLimit = n
	return b
}

// Build creates a StorageAllocator.
func (b Builder) Build() *StorageAllocator {
	storage := b.storage
	if storage == nil {
		storage = mem.NewStorage(b.capacity)
	}

	if storage.UnitSize() != PageSize {
		panic("storage unit size must match the frame size")
	}

	return &StorageAllocator{
		storage:   storage,
		numFrames: storage.Capacity() / PageSize,
		limit:     b.frameLimit,
	}
}
