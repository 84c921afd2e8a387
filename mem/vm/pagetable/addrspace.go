package pagetable

// PID identifies the process that owns an address space.
type PID uint32

// An AddressSpace is the translation context of one process. The process
// owns the PGD and the folded P4D; everything below is filled in on demand.
type AddressSpace struct {
	pid   PID
	arena *Arena
	root  *Node
}

// NewAddressSpace creates the context of a process with an empty PGD taken
// from the arena.
func NewAddressSpace(pid PID, arena *Arena) (*AddressSpace, error) {
	root, err := arena.NewRoot()
	if err != nil {
		return nil, err
	}

	return &AddressSpace{pid: pid, arena: arena, root: root}, nil
}

// PID returns the owning process.
func (as *AddressSpace) PID() PID {
	return as.pid
}

// Arena returns the arena the hierarchy lives in.
func (as *AddressSpace) Arena() *Arena {
	return as.arena
}

// Root returns the PGD node.
func (as *AddressSpace) Root() *Node {
	return as.root
}

// P4D returns the P4D entry for the address. With the P4D folded, this is
// the PGD entry itself.
func (as *AddressSpace) P4D(vAddr uint64) *Entry {
	return as.root.EntryFor(vAddr)
}
