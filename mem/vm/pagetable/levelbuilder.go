package pagetable

import (
	"errors"
	"fmt"

	"github.com/sarchlab/memalloc/mem/vm/frame"
)

// ErrEntryInUse is returned when a leaf is installed over a non-empty entry.
var ErrEntryInUse = errors.New("page table entry already in use")

// A LevelBuilder links missing interior nodes and installs leaves. Callers
// must serialise updates that touch the same subtree.
type LevelBuilder struct {
	arena  *Arena
	format Format
}

// NewLevelBuilder creates a LevelBuilder that encodes entries with format.
func NewLevelBuilder(arena *Arena, format Format) *LevelBuilder {
	return &LevelBuilder{arena: arena, format: format}
}

// Format returns the entry format the builder writes.
func (b *LevelBuilder) Format() Format {
	return b.format
}

// EnsureNextLevel returns the node linked by the entry of parent that vAddr
// selects. If the entry is empty, a zeroed node is allocated and linked with
// one atomic store, followed by the barrier the format requires. The created
// return value tells if a node was linked by this call. On allocation
// failure the entry stays empty.
func (b *LevelBuilder) EnsureNextLevel(
	parent *Node,
	vAddr uint64,
) (child *Node, created bool, err error) {
	if parent.level.IsLeaf() {
		panic("cannot build a level below the leaf level")
	}

	child, err = b.arena.child(b.format, parent, vAddr)
	if err != nil {
		return nil, false, fmt.Errorf("%s entry for 0x%x: %w",
			parent.level, vAddr, err)
	}

	if child != nil {
		return child, false, nil
	}

	slot := parent.level.Index(vAddr)

	child, err = b.arena.newChild(parent, slot)
	if err != nil {
		return nil, false, err
	}

	desc := b.format.TableDescriptor(child.frame.Number)
	if !parent.entries[slot].publish(desc) {
		panic(fmt.Sprintf("%s entry %d changed while linking a new node",
			parent.level, slot))
	}

	b.arena.writeEntry(parent, slot, desc)
	b.format.SyncTableUpdate(desc)

	return child, true, nil
}

// EnsureLeafTable makes sure every level down to the PTE node that holds the
// leaf for vAddr exists, starting from the folded P4D entry. It returns the
// PTE node and the nodes created on the way.
func (b *LevelBuilder) EnsureLeafTable(
	as *AddressSpace,
	vAddr uint64,
) (pte *Node, created []*Node, err error) {
	node := as.Root()

	for !node.level.IsLeaf() {
		next, isNew, err := b.EnsureNextLevel(node, vAddr)
		if err != nil {
			return nil, created, err
		}

		if isNew {
			created = append(created, next)
		}

		node = next
	}

	return node, created, nil
}

// InstallLeaf maps the page at vAddr to the frame with perm. The PTE entry
// must be empty.
func (b *LevelBuilder) InstallLeaf(
	pte *Node,
	vAddr uint64,
	f frame.Frame,
	perm Permission,
) error {
	if !pte.level.IsLeaf() {
		panic("leaves can only be installed in PTE nodes")
	}

	desc := b.format.LeafDescriptor(f.Number, perm)
	if !pte.EntryFor(vAddr).publish(desc) {
		return fmt.Errorf("leaf for 0x%x: %w", vAddr, ErrEntryInUse)
	}

	b.arena.writeEntry(pte, pte.level.Index(vAddr), desc)

	return nil
}
