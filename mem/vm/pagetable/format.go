package pagetable

import (
	"fmt"
	"runtime"
	"sort"
)

// Permission is the access right attached to a leaf entry.
type Permission int

// Permissions a leaf can carry.
const (
	ReadOnly Permission = iota
	ReadWrite
)

func (p Permission) String() string {
	if p == ReadWrite {
		return "read-write"
	}

	return "read-only"
}

// PermissionFor maps a write flag to the permission it requests.
func PermissionFor(write bool) Permission {
	if write {
		return ReadWrite
	}

	return ReadOnly
}

// A Format encodes and decodes the entries of one page-table architecture.
//
// The format is selected once when the hierarchy is built. Everything above
// the format only deals with raw uint64 descriptors and never looks at
// individual bits.
type Format interface {
	// Name returns the name the format is registered with.
	Name() string

	// TableDescriptor encodes an interior entry that links the next-level
	// node held in frame pfn.
	TableDescriptor(pfn uint64) uint64

	// LeafDescriptor encodes a leaf entry that maps frame pfn.
	LeafDescriptor(pfn uint64, perm Permission) uint64

	// IsBad tells if a non-empty interior entry does not link a next-level
	// table.
	IsBad(v uint64) bool

	// FrameNumber extracts the frame number from a descriptor.
	FrameNumber(v uint64) uint64

	// Permission extracts the permission from a leaf descriptor.
	Permission(v uint64) Permission

	// SyncTableUpdate orders a table-descriptor store before any later
	// table walk on architectures that need it.
	SyncTableUpdate(v uint64)

	// Barriers returns the number of barrier sequences issued so far.
	Barriers() uint64
}

var formatFactories = map[string]func() Format{
	"x86_64": func() Format { return NewX86Format() },
	"arm64":  func() Format { return NewARM64Format() },
}

// FormatByName creates the format registered under name. Both the GOARCH
// spelling and the common alias are accepted ("amd64", "aarch64").
func FormatByName(name string) (Format, error) {
	switch name {
	case "amd64":
		name = "x86_64"
	case "aarch64":
		name = "arm64"
	}

	factory, ok := formatFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown page table format %q", name)
	}

	return factory(), nil
}

// FormatNames lists the names of the supported formats.
func FormatNames() []string {
	names := make([]string, 0, len(formatFactories))
	for name := range formatFactories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// DefaultFormat returns the format of the host architecture, falling back to
// x86_64.
func DefaultFormat() Format {
	if runtime.GOARCH == "arm64" {
		return NewARM64Format()
	}

	return NewX86Format()
}
