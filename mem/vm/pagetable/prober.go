package pagetable

import "fmt"

// A Leaf describes the translation of one page.
type Leaf struct {
	VAddr      uint64
	Frame      uint64
	Permission Permission
	Descriptor uint64
}

// PAddr returns the physical address the page starts at.
func (l Leaf) PAddr() uint64 {
	return l.Frame << PageShift
}

// A Prober walks hierarchies without changing them.
type Prober struct {
	format Format
}

// NewProber creates a Prober that decodes entries with format.
func NewProber(format Format) *Prober {
	return &Prober{format: format}
}

// IsMapped tells if any page in [vAddr, vAddr+pages*PageSize) has a leaf
// entry. Pages whose path stops at an empty or malformed interior entry
// count as unmapped.
func (p *Prober) IsMapped(as *AddressSpace, vAddr uint64, pages int) bool {
	for i := 0; i < pages; i++ {
		addr := vAddr + uint64(i)*PageSize

		if _, found := p.Lookup(as, addr); found {
			return true
		}
	}

	return false
}

// CheckPath returns ErrMalformedEntry if the walk for any page in
// [vAddr, vAddr+pages*PageSize) stops at a present interior entry that does
// not link a child of its node. Empty entries are fine.
func (p *Prober) CheckPath(as *AddressSpace, vAddr uint64, pages int) error {
	reachedPTE := false

	for i := 0; i < pages; i++ {
		addr := vAddr + uint64(i)*PageSize

		// Pages under one PTE node share the whole path.
		if reachedPTE && addr&(LevelPMD.Span()-1) != 0 {
			continue
		}

		reachedPTE = false
		node := as.Root()

		for !node.level.IsLeaf() {
			next, err := as.arena.child(p.format, node, addr)
			if err != nil {
				return fmt.Errorf("%s entry for 0x%x: %w", node.level, addr, err)
			}

			if next == nil {
				break
			}

			node = next
		}

		reachedPTE = node.level.IsLeaf()
	}

	return nil
}

// Lookup returns the leaf that maps the page holding vAddr.
func (p *Prober) Lookup(as *AddressSpace, vAddr uint64) (Leaf, bool) {
	pte := p.leafTable(as, vAddr)
	if pte == nil {
		return Leaf{}, false
	}

	v := pte.EntryFor(vAddr).Load()
	if v == 0 {
		return Leaf{}, false
	}

	return Leaf{
		VAddr:      vAddr &^ (PageSize - 1),
		Frame:      p.format.FrameNumber(v),
		Permission: p.format.Permission(v),
		Descriptor: v,
	}, true
}

// leafTable returns the PTE node for vAddr, or nil when the path is not
// complete.
func (p *Prober) leafTable(as *AddressSpace, vAddr uint64) *Node {
	node := as.Root()

	for !node.level.IsLeaf() {
		next, err := as.arena.child(p.format, node, vAddr)
		if err != nil || next == nil {
			return nil
		}

		node = next
	}

	return node
}
