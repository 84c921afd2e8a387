package pagetable

import "sync/atomic"

const (
	armValid     = 1 << 0
	armTableBit  = 1 << 1
	armTypeMask  = armValid | armTableBit
	armTypeTable = armValid | armTableBit
	armTypePage  = armValid | armTableBit

	armAttrIndxNormal = 0 << 2
	armUser           = 1 << 6  // AP[1]
	armReadOnly       = 1 << 7  // AP[2]
	armShared         = 3 << 8  // SH, inner shareable
	armAccessFlag     = 1 << 10 // AF
	armNotGlobal      = 1 << 11 // nG
	armWrite          = 1 << 51 // DBM
	armPXN            = 1 << 53
	armUXN            = 1 << 54
	armTablePXN       = 1 << 59

	armAddrMask = 0x0000fffffffff000

	armPageDefault = armTypePage | armAccessFlag | armShared | armAttrIndxNormal
	armPageUser    = armPageDefault | armUser | armNotGlobal | armPXN | armUXN
)

// ARM64Format is the AArch64 descriptor layout with a 4 KiB granule. The
// descriptor type, access permission, access flag, shareability, and
// execute-never controls live in separate fields, and a table update must be
// followed by a store barrier and an instruction barrier before the walker
// is guaranteed to see it.
type ARM64Format struct {
	barriers atomic.Uint64
}

// NewARM64Format creates an ARM64Format.
func NewARM64Format() *ARM64Format {
	return &ARM64Format{}
}

// Name returns "arm64".
func (f *ARM64Format) Name() string {
	return "arm64"
}

// TableDescriptor encodes TYPE_TABLE | TABLE_PXN | pa.
func (f *ARM64Format) TableDescriptor(pfn uint64) uint64 {
	return (pfn << PageShift & armAddrMask) | armTypeTable | armTablePXN
}

// LeafDescriptor encodes a user page, writable through the DBM bit or marked
// read-only through AP[2].
func (f *ARM64Format) LeafDescriptor(pfn uint64, perm Permission) uint64 {
	v := (pfn << PageShift & armAddrMask) | armPageUser
	if perm == ReadWrite {
		return v | armWrite
	}

	return v | armReadOnly
}

// IsBad reports entries that are not table descriptors.
func (f *ARM64Format) IsBad(v uint64) bool {
	return v&armTypeMask != armTypeTable
}

// FrameNumber extracts output address bits 12 to 47.
func (f *ARM64Format) FrameNumber(v uint64) uint64 {
	return (v & armAddrMask) >> PageShift
}

// Permission reads AP[2] and the DBM bit.
func (f *ARM64Format) Permission(v uint64) Permission {
	return PermissionFor(v&armReadOnly == 0 && v&armWrite != 0)
}

// SyncTableUpdate issues dsb(ishst) followed by isb once a valid table
// descriptor has been stored.
func (f *ARM64Format) SyncTableUpdate(v uint64) {
	if v&armValid == 0 {
		return
	}

	f.dsbISHST()
	f.isb()
}

// Barriers returns the number of dsb/isb pairs issued.
func (f *ARM64Format) Barriers() uint64 {
	return f.barriers.Load()
}

// The simulated walker reads entries with atomic loads, so the store
// barrier only needs to be sequenced with them.
func (f *ARM64Format) dsbISHST() {
	f.barriers.Add(1)
}

func (f *ARM64Format) isb() {}
