package pagetable

import "fmt"

// EntriesPerNode is the number of entries in every node of the hierarchy.
const EntriesPerNode = 512

// PageShift is the log2 of the page size the hierarchy maps.
const PageShift = 12

// PageSize is the number of bytes a leaf entry maps.
const PageSize uint64 = 1 << PageShift

// UserSpaceTop is the first address above the lower canonical half, which is
// the part of the address space a process can request mappings in.
const UserSpaceTop uint64 = 1 << 47

// A Level identifies a layer of the translation hierarchy. The P4D level is
// folded into the PGD, so a PGD entry doubles as the P4D entry.
type Level int

// Levels, from the root down to the leaf.
const (
	LevelPGD Level = iota
	LevelPUD
	LevelPMD
	LevelPTE
)

var levelShifts = [...]uint{39, 30, 21, 12}

var levelNames = [...]string{"PGD", "PUD", "PMD", "PTE"}

func (l Level) String() string {
	if l < LevelPGD || l > LevelPTE {
		return fmt.Sprintf("Level(%d)", int(l))
	}

	return levelNames[l]
}

// Shift returns the position of the lowest address bit that the level
// indexes with.
func (l Level) Shift() uint {
	return levelShifts[l]
}

// Span returns the number of bytes one entry of the level covers.
func (l Level) Span() uint64 {
	return 1 << l.Shift()
}

// Index returns the entry index the address selects at this level.
func (l Level) Index(vAddr uint64) int {
	return int((vAddr >> l.Shift()) & (EntriesPerNode - 1))
}

// IsLeaf tells if the entries of the level map pages directly.
func (l Level) IsLeaf() bool {
	return l == LevelPTE
}

// Next returns the level below. It panics on the leaf level.
func (l Level) Next() Level {
	if l.IsLeaf() {
		panic("the leaf level does not have a next level")
	}

	return l + 1
}

// PageAligned tells if the address is at the start of a page.
func PageAligned(vAddr uint64) bool {
	return vAddr&(PageSize-1) == 0
}

// InUserSpace tells if the pages [vAddr, vAddr+pages*PageSize) are all
// inside the user half of the address space.
func InUserSpace(vAddr uint64, pages int) bool {
	if pages < 0 || vAddr >= UserSpaceTop {
		return false
	}

	return uint64(pages) <= (UserSpaceTop-vAddr)/PageSize
}
