package memalloc

import (
	"github.com/sarchlab/memalloc/mem/mem"
	"github.com/sarchlab/memalloc/mem/vm/frame"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
	"github.com/sarchlab/memalloc/sim"
)

// Default capacity limits.
const (
	DefaultMaxPages       = 4096
	DefaultMaxAllocations = 100
)

// A Builder can build Engines.
type Builder struct {
	maxPages       int
	maxAllocations int
	physicalMemory uint64
	format         pagetable.Format
	frames         frame.Allocator
	idGen          sim.IDGenerator
	hooks          []sim.Hook
}

// MakeBuilder returns a Builder with the default limits and 64 MiB of
// physical memory.
func MakeBuilder() Builder {
	return Builder{
		maxPages:       DefaultMaxPages,
		maxAllocations: DefaultMaxAllocations,
		physicalMemory: 64 * mem.MB,
	}
}

// WithMaxPages sets the number of pages that can be allocated in total.
func (b Builder) WithMaxPages(n int) Builder {
	b.maxPages = n
	return b
}

// WithMaxAllocations sets the number of successful allocations allowed.
func (b Builder) WithMaxAllocations(n int) Builder {
	b.maxAllocations = n
	return b
}

// WithPhysicalMemory sets the size of the physical memory frames are taken
// from. It is ignored when a frame allocator is provided.
func (b Builder) WithPhysicalMemory(capacity uint64) Builder {
	b.physicalMemory = capacity
	return b
}

// WithFormat sets the page table format. The host format is used if not set.
func (b Builder) WithFormat(format pagetable.Format) Builder {
	b.format = format
	return b
}

// WithFrameAllocator sets the allocator that provides both table and page
// frames.
func (b Builder) WithFrameAllocator(frames frame.Allocator) Builder {
	b.frames = frames
	return b
}

// WithIDGenerator sets how request IDs are generated.
func (b Builder) WithIDGenerator(g sim.IDGenerator) Builder {
	b.idGen = g
	return b
}

// WithHook registers a hook on the engine being built.
func (b Builder) WithHook(hook sim.Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], hook)
	return b
}

// Build creates an Engine.
func (b Builder) Build(name string) *Engine {
	if b.maxPages < 0 || b.maxAllocations < 0 {
		panic("memalloc limits must not be negative")
	}

	e := &Engine{
		HookableBase:   sim.NewHookableBase(),
		name:           name,
		idGen:          b.idGen,
		frames:         b.frames,
		format:         b.format,
		maxPages:       b.maxPages,
		maxAllocations: b.maxAllocations,
	}

	if e.idGen == nil {
		e.idGen = sim.NewSequentialIDGenerator()
	}

	if e.format == nil {
		e.format = pagetable.DefaultFormat()
	}

	if e.frames == nil {
		e.frames = frame.MakeBuilder().
			WithCapacity(b.physicalMemory).
			Build()
	}

	e.arena = pagetable.NewArena(e.frames)
	e.levels = pagetable.NewLevelBuilder(e.arena, e.format)
	e.prober = pagetable.NewProber(e.format)

	for _, h := range b.hooks {
		e.AcceptHook(h)
	}

	return e
}
