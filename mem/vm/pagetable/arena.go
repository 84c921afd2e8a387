// Package pagetable models a four-level translation hierarchy.
//
// Nodes live in an Arena and are addressed by NodeID or by the number of
// the frame that backs them. Interior entries hold real table descriptors,
// so following an entry means decoding the frame number and asking the
// arena for the node in that frame. When the frames come from a Storage,
// every published entry is also written to its node's frame.
package pagetable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sarchlab/memalloc/mem/mem"
	"github.com/sarchlab/memalloc/mem/vm/frame"
)

// ErrNoPhysicalMemory is returned when frame contents are read from an
// arena whose allocator is not backed by a Storage.
var ErrNoPhysicalMemory = errors.New("arena has no physical memory")

// EntrySize is the number of bytes an entry takes in its node's frame.
const EntrySize = 8

type storageBacked interface {
	Storage() *mem.Storage
}

// ErrMalformedEntry is returned when a present interior entry does not link
// a node of the expected level.
var ErrMalformedEntry = errors.New("malformed page table entry")

// NodeID addresses a node in an Arena.
type NodeID uint32

// NoNode is the parent of root nodes.
const NoNode NodeID = math.MaxUint32

// A Node is a page-sized array of entries.
type Node struct {
	id      NodeID
	level   Level
	frame   frame.Frame
	parent  NodeID
	slot    int
	entries [EntriesPerNode]Entry
}

// ID returns the handle of the node.
func (n *Node) ID() NodeID {
	return n.id
}

// Level returns the level the node belongs to.
func (n *Node) Level() Level {
	return n.level
}

// Frame returns the frame that backs the node.
func (n *Node) Frame() frame.Frame {
	return n.frame
}

// Parent returns the node and the slot that link this node. Root nodes
// return NoNode.
func (n *Node) Parent() (NodeID, int) {
	return n.parent, n.slot
}

// Entry returns the entry at index i.
func (n *Node) Entry(i int) *Entry {
	return &n.entries[i]
}

// EntryFor returns the entry that the address selects in this node.
func (n *Node) EntryFor(vAddr uint64) *Entry {
	return &n.entries[n.level.Index(vAddr)]
}

// NumPresent counts the non-empty entries.
func (n *Node) NumPresent() int {
	count := 0
	for i := range n.entries {
		if !n.entries[i].IsNone() {
			count++
		}
	}

	return count
}

// An Arena owns every node of every hierarchy that shares one physical
// memory.
type Arena struct {
	sync.RWMutex

	frames  frame.Allocator
	memory  *mem.Storage
	nodes   []*Node
	byFrame map[uint64]NodeID
}

// NewArena creates an arena that takes node frames from the allocator.
func NewArena(frames frame.Allocator) *Arena {
	a := &Arena{
		frames:  frames,
		byFrame: make(map[uint64]NodeID),
	}

	if b, ok := frames.(storageBacked); ok {
		a.memory = b.Storage()
	}

	return a
}

// ReadFrame returns the content of a frame of the physical memory.
func (a *Arena) ReadFrame(pfn uint64) ([]byte, error) {
	if a.memory == nil {
		return nil, ErrNoPhysicalMemory
	}

	return a.memory.Read(frame.AddrOf(pfn), frame.PageSize)
}

// writeEntry stores v at slot of n in physical memory.
func (a *Arena) writeEntry(n *Node, slot int, v uint64) {
	if a.memory == nil {
		return
	}

	var buf [EntrySize]byte
	binary.LittleEndian.PutUint64(buf[:], v)

	err := a.memory.Write(n.frame.Addr+uint64(slot)*EntrySize, buf[:])
	if err != nil {
		panic(fmt.Sprintf("writing %s entry %d of frame %d: %v",
			n.level, slot, n.frame.Number, err))
	}
}

// NewRoot creates a PGD node that has no parent.
func (a *Arena) NewRoot() (*Node, error) {
	return a.allocNode(LevelPGD, NoNode, 0)
}

// newChild creates the node that will be linked from slot of parent. The
// node is only reachable once the caller publishes its descriptor.
func (a *Arena) newChild(parent *Node, slot int) (*Node, error) {
	return a.allocNode(parent.level.Next(), parent.id, slot)
}

func (a *Arena) allocNode(level Level, parent NodeID, slot int) (*Node, error) {
	f, err := a.frames.Acquire()
	if err != nil {
		return nil, fmt.Errorf("allocating %s node: %w", level, err)
	}

	a.Lock()
	defer a.Unlock()

	if _, used := a.byFrame[f.Number]; used {
		panic(fmt.Sprintf("frame %d already backs a node", f.Number))
	}

	n := &Node{
		id:     NodeID(len(a.nodes)),
		level:  level,
		frame:  f,
		parent: parent,
		slot:   slot,
	}
	a.nodes = append(a.nodes, n)
	a.byFrame[f.Number] = n.id

	return n, nil
}

// Node returns the node with the given ID, or nil.
func (a *Arena) Node(id NodeID) *Node {
	a.RLock()
	defer a.RUnlock()

	if int(id) >= len(a.nodes) {
		return nil
	}

	return a.nodes[id]
}

// NodeAt returns the node backed by frame pfn.
func (a *Arena) NodeAt(pfn uint64) (*Node, bool) {
	a.RLock()
	defer a.RUnlock()

	id, ok := a.byFrame[pfn]
	if !ok {
		return nil, false
	}

	return a.nodes[id], true
}

// NumNodes returns the number of nodes created so far.
func (a *Arena) NumNodes() int {
	a.RLock()
	defer a.RUnlock()

	return len(a.nodes)
}

// NumNodesAt returns the number of nodes of a level.
func (a *Arena) NumNodesAt(level Level) int {
	a.RLock()
	defer a.RUnlock()

	count := 0
	for _, n := range a.nodes {
		if n.level == level {
			count++
		}
	}

	return count
}

// child follows an interior entry of parent. It returns nil without error
// when the entry is empty.
func (a *Arena) child(f Format, parent *Node, vAddr uint64) (*Node, error) {
	slot := parent.level.Index(vAddr)

	v := parent.entries[slot].Load()
	if v == 0 {
		return nil, nil
	}

	if f.IsBad(v) {
		return nil, ErrMalformedEntry
	}

	n, ok := a.NodeAt(f.FrameNumber(v))
	if !ok || n.level != parent.level.Next() ||
		n.parent != parent.id || n.slot != slot {
		return nil, ErrMalformedEntry
	}

	return n, nil
}
