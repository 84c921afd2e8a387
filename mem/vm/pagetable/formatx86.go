package pagetable

const (
	x86Present  = 1 << 0
	x86Writable = 1 << 1
	x86User     = 1 << 2
	x86Accessed = 1 << 5
	x86Dirty    = 1 << 6
	x86NX       = 1 << 63

	x86PFNMask = 0x000ffffffffff000

	// _PAGE_TABLE and _KERNPG_TABLE.
	x86PageTable   = x86Present | x86Writable | x86User | x86Accessed | x86Dirty
	x86KernPgTable = x86Present | x86Writable | x86Accessed | x86Dirty

	// PAGE_SHARED and PAGE_READONLY.
	x86PageShared   = x86Present | x86Writable | x86User | x86Accessed | x86NX
	x86PageReadOnly = x86Present | x86User | x86Accessed | x86NX
)

// X86Format is the x86-64 layout: a single flag word where the presence,
// write, user, and no-execute bits all sit next to the frame number.
// Page-table walks on x86-64 are coherent with earlier stores, so no barrier
// is needed after a table update.
type X86Format struct{}

// NewX86Format creates an X86Format.
func NewX86Format() *X86Format {
	return &X86Format{}
}

// Name returns "x86_64".
func (f *X86Format) Name() string {
	return "x86_64"
}

// TableDescriptor encodes _PAGE_TABLE | pa.
func (f *X86Format) TableDescriptor(pfn uint64) uint64 {
	return (pfn << PageShift & x86PFNMask) | x86PageTable
}

// LeafDescriptor encodes the frame with PAGE_SHARED or PAGE_READONLY.
func (f *X86Format) LeafDescriptor(pfn uint64, perm Permission) uint64 {
	v := pfn << PageShift & x86PFNMask
	if perm == ReadWrite {
		return v | x86PageShared
	}

	return v | x86PageReadOnly
}

// IsBad reports entries whose flags, ignoring the user bit, are not those
// of a kernel page table.
func (f *X86Format) IsBad(v uint64) bool {
	flags := v &^ x86PFNMask &^ x86User
	return flags != x86KernPgTable
}

// FrameNumber extracts bits 12 to 51.
func (f *X86Format) FrameNumber(v uint64) uint64 {
	return (v & x86PFNMask) >> PageShift
}

// Permission reads the writable bit.
func (f *X86Format) Permission(v uint64) Permission {
	return PermissionFor(v&x86Writable != 0)
}

// SyncTableUpdate does nothing on x86-64.
func (f *X86Format) SyncTableUpdate(uint64) {}

// Barriers always returns 0.
func (f *X86Format) Barriers() uint64 {
	return 0
}
