// Package memalloc maps fresh page frames into process address spaces.
package memalloc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sarchlab/memalloc/mem/vm/frame"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
	"github.com/sarchlab/memalloc/sim"
)

// Hook positions the engine reports at. Hooks run while the engine lock is
// held and must not call back into the engine.
var (
	// Item: AllocRequest.
	HookPosAllocStart = &sim.HookPos{Name: "AllocStart"}
	// Item: Result, Detail: error.
	HookPosAllocEnd = &sim.HookPos{Name: "AllocEnd"}
	// Item: *pagetable.Node.
	HookPosTableCreated = &sim.HookPos{Name: "TableCreated"}
	// Item: pagetable.Leaf.
	HookPosLeafInstalled = &sim.HookPos{Name: "LeafInstalled"}
	// Item: Result.
	HookPosRelease = &sim.HookPos{Name: "Release"}
)

type usageReporter interface {
	Usage() frame.Usage
}

// Engine serves allocation and free requests. One lock covers the counters
// and every hierarchy the engine updates, so each request is checked and
// applied atomically with respect to the others.
type Engine struct {
	*sim.HookableBase

	name  string
	lock  sync.Mutex
	idGen sim.IDGenerator

	frames         frame.Allocator
	arena          *pagetable.Arena
	levels         *pagetable.LevelBuilder
	prober         *pagetable.Prober
	format         pagetable.Format
	maxPages       int
	maxAllocations int

	totalPagesAllocated int
	totalAllocations    int
}

// Name returns the name of the engine.
func (e *Engine) Name() string {
	return e.name
}

// Arena returns the arena that holds the hierarchies.
func (e *Engine) Arena() *pagetable.Arena {
	return e.arena
}

// Format returns the entry format in use.
func (e *Engine) Format() pagetable.Format {
	return e.format
}

// NewAddressSpace creates a process context whose PGD lives in the engine
// arena.
func (e *Engine) NewAddressSpace(pid pagetable.PID) (*pagetable.AddressSpace, error) {
	return pagetable.NewAddressSpace(pid, e.arena)
}

// Allocate maps req.Pages fresh frames starting at req.VAddr.
//
// The request is rejected without any change if the arguments are invalid,
// if it would exceed the page or allocation limit, or if any page in the
// range already has a leaf. If frames run out midway, the pages mapped so
// far stay mapped, the counters are not updated, and the result reports
// OutcomePartial.
func (e *Engine) Allocate(
	as *pagetable.AddressSpace,
	req AllocRequest,
) (Result, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	res := Result{
		ID:             e.idGen.Generate(),
		PID:            as.PID(),
		VAddr:          req.VAddr,
		PagesRequested: req.Pages,
		Permission:     pagetable.PermissionFor(req.Write),
		Outcome:        OutcomeRejected,
	}

	e.InvokeHook(sim.HookCtx{Domain: e, Pos: HookPosAllocStart, Item: req})

	err := e.admit(as, req)
	if err == nil {
		err = e.mapPages(as, req, &res)
	}

	switch {
	case err == nil:
		res.Outcome = OutcomeAllocated
		e.totalPagesAllocated += res.PagesInstalled
		e.totalAllocations++
	case res.PagesInstalled > 0:
		res.Outcome = OutcomePartial
	}

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Pos:    HookPosAllocEnd,
		Item:   res,
		Detail: err,
	})

	return res, err
}

func (e *Engine) admit(as *pagetable.AddressSpace, req AllocRequest) error {
	if !pagetable.PageAligned(req.VAddr) {
		return fmt.Errorf("%w: address 0x%x is not page aligned",
			ErrInvalidArgument, req.VAddr)
	}

	if req.Pages <= 0 {
		return fmt.Errorf("%w: page count %d", ErrInvalidArgument, req.Pages)
	}

	if !pagetable.InUserSpace(req.VAddr, req.Pages) {
		return fmt.Errorf("%w: %d pages at 0x%x leave user space",
			ErrInvalidArgument, req.Pages, req.VAddr)
	}

	if int64(e.totalPagesAllocated)+int64(req.Pages) > int64(e.maxPages) {
		return fmt.Errorf("%w: %d/%d pages in use, %d requested",
			ErrPageLimitExceeded, e.totalPagesAllocated, e.maxPages, req.Pages)
	}

	if e.totalAllocations >= e.maxAllocations {
		return fmt.Errorf("%w: %d/%d allocations in use",
			ErrAllocationLimitExceeded, e.totalAllocations, e.maxAllocations)
	}

	if e.prober.IsMapped(as, req.VAddr, req.Pages) {
		return fmt.Errorf("%w: %d pages at 0x%x",
			ErrAlreadyMapped, req.Pages, req.VAddr)
	}

	if err := e.prober.CheckPath(as, req.VAddr, req.Pages); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return nil
}

func (e *Engine) mapPages(
	as *pagetable.AddressSpace,
	req AllocRequest,
	res *Result,
) error {
	for i := 0; i < req.Pages; i++ {
		vAddr := req.VAddr + uint64(i)*pagetable.PageSize

		err := e.mapPage(as, vAddr, res.Permission)
		if err != nil {
			return err
		}

		res.PagesInstalled++
	}

	return nil
}

func (e *Engine) mapPage(
	as *pagetable.AddressSpace,
	vAddr uint64,
	perm pagetable.Permission,
) error {
	pte, created, err := e.levels.EnsureLeafTable(as, vAddr)
	for _, n := range created {
		e.InvokeHook(sim.HookCtx{Domain: e, Pos: HookPosTableCreated, Item: n})
	}

	if errors.Is(err, pagetable.ErrMalformedEntry) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	} else if err != nil {
		return err
	}

	f, err := e.frames.Acquire()
	if err != nil {
		return fmt.Errorf("allocating page at 0x%x: %w", vAddr, err)
	}

	err = e.levels.InstallLeaf(pte, vAddr, f, perm)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAlreadyMapped, err)
	}

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Pos:    HookPosLeafInstalled,
		Item: pagetable.Leaf{
			VAddr:      vAddr,
			Frame:      f.Number,
			Permission: perm,
			Descriptor: pte.EntryFor(vAddr).Load(),
		},
	})

	return nil
}

// Release acknowledges a free request. It does not unmap the pages, return
// the frames, or lower the counters; the pages stay mapped.
func (e *Engine) Release(as *pagetable.AddressSpace, req FreeRequest) Result {
	e.lock.Lock()
	defer e.lock.Unlock()

	res := Result{
		ID:      e.idGen.Generate(),
		PID:     as.PID(),
		VAddr:   req.VAddr,
		Outcome: OutcomeReleaseIgnored,
	}

	e.InvokeHook(sim.HookCtx{Domain: e, Pos: HookPosRelease, Item: res})

	return res
}

// IsMapped tells if any page of the range has a leaf entry.
func (e *Engine) IsMapped(
	as *pagetable.AddressSpace,
	vAddr uint64,
	pages int,
) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.prober.IsMapped(as, vAddr, pages)
}

// Lookup returns the leaf that maps vAddr. It does not take the engine lock;
// entries are read atomically.
func (e *Engine) Lookup(
	as *pagetable.AddressSpace,
	vAddr uint64,
) (pagetable.Leaf, bool) {
	return e.prober.Lookup(as, vAddr)
}

// Stats returns a snapshot of the counters and resource usage.
func (e *Engine) Stats() Stats {
	e.lock.Lock()
	defer e.lock.Unlock()

	s := Stats{
		Name:                e.name,
		Format:              e.format.Name(),
		TotalPagesAllocated: e.totalPagesAllocated,
		TotalAllocations:    e.totalAllocations,
		MaxPages:            e.maxPages,
		MaxAllocations:      e.maxAllocations,
		Nodes:               e.arena.NumNodes(),
	}

	if r, ok := e.frames.(usageReporter); ok {
		u := r.Usage()
		s.FramesInUse = u.InUse
		s.FramesTotal = u.Total
		s.FramesTouched = u.Touched
	}

	return s
}

// ReadFrame returns the content of a physical frame. Frames that hold
// tables show the descriptors the engine stored in them.
func (e *Engine) ReadFrame(pfn uint64) ([]byte, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.arena.ReadFrame(pfn)
}

// Inspect runs f while no request is in progress, so f can read the engine
// state.
func (e *Engine) Inspect(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()

	f()
}
