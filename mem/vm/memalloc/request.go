package memalloc

import (
	"errors"

	"github.com/sarchlab/memalloc/mem/vm/frame"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
)

// Reasons a request can fail.
var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrPageLimitExceeded       = errors.New("page limit exceeded")
	ErrAllocationLimitExceeded = errors.New("allocation limit exceeded")
	ErrAlreadyMapped           = errors.New("memory region already mapped")
	ErrOutOfMemory             = frame.ErrOutOfMemory
)

// An AllocRequest asks for Pages fresh pages starting at VAddr.
type AllocRequest struct {
	VAddr uint64
	Pages int
	Write bool
}

// A FreeRequest asks to release the allocation at VAddr.
type FreeRequest struct {
	VAddr uint64
}

// Outcome tells how much of a request took effect.
type Outcome int

// Outcomes of a request.
const (
	// OutcomeRejected means nothing was mapped.
	OutcomeRejected Outcome = iota
	// OutcomeAllocated means every requested page was mapped.
	OutcomeAllocated
	// OutcomePartial means the request failed after mapping PagesInstalled
	// pages. Those pages stay mapped. Paths are checked before any page is
	// mapped, so only running out of frames leads here.
	OutcomePartial
	// OutcomeReleaseIgnored acknowledges a free request. Releasing does not
	// unmap pages, return frames, or lower the counters.
	OutcomeReleaseIgnored
)

var outcomeNames = [...]string{"rejected", "allocated", "partial", "release-ignored"}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}

	return outcomeNames[o]
}

// Result reports what a request did.
type Result struct {
	ID             string
	PID            pagetable.PID
	VAddr          uint64
	PagesRequested int
	PagesInstalled int
	Permission     pagetable.Permission
	Outcome        Outcome
}

// Stats is a snapshot of the engine state.
type Stats struct {
	Name                string `json:"name"`
	Format              string `json:"format"`
	TotalPagesAllocated int    `json:"total_pages_allocated"`
	TotalAllocations    int    `json:"total_allocations"`
	MaxPages            int    `json:"max_pages"`
	MaxAllocations      int    `json:"max_allocations"`
	Nodes               int    `json:"nodes"`
	FramesInUse         uint64 `json:"frames_in_use"`
	FramesTotal         uint64 `json:"frames_total"`
	FramesTouched       uint64 `json:"frames_touched"`
}
