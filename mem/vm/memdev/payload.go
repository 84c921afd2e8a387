package memdev

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/memalloc/mem/vm/memalloc"
)

// Payload sizes in bytes.
const (
	AllocInfoSize = 16
	FreeInfoSize  = 8
)

// AllocInfo is the payload of CmdAllocate. On the wire it is laid out as
// a little-endian u64 address, an i32 page count, a u8 write flag, and three
// bytes of padding.
type AllocInfo struct {
	VAddr    uint64
	NumPages int32
	Write    bool
}

// MarshalBinary encodes the payload.
func (a AllocInfo) MarshalBinary() ([]byte, error) {
	buf := make([]byte, AllocInfoSize)
	binary.LittleEndian.PutUint64(buf[0:8], a.VAddr)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(a.NumPages))

	if a.Write {
		buf[12] = 1
	}

	return buf, nil
}

// UnmarshalBinary decodes the payload. Any non-zero write byte means write.
func (a *AllocInfo) UnmarshalBinary(buf []byte) error {
	if len(buf) != AllocInfoSize {
		return fmt.Errorf("alloc info must be %d bytes, got %d",
			AllocInfoSize, len(buf))
	}

	a.VAddr = binary.LittleEndian.Uint64(buf[0:8])
	a.NumPages = int32(binary.LittleEndian.Uint32(buf[8:12]))
	a.Write = buf[12] != 0

	return nil
}

// Request converts the payload into an engine request.
func (a AllocInfo) Request() memalloc.AllocRequest {
	return memalloc.AllocRequest{
		VAddr: a.VAddr,
		Pages: int(a.NumPages),
		Write: a.Write,
	}
}

// FreeInfo is the payload of CmdFree, a single little-endian u64 address.
type FreeInfo struct {
	VAddr uint64
}

// MarshalBinary encodes the payload.
func (f FreeInfo) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FreeInfoSize)
	binary.LittleEndian.PutUint64(buf, f.VAddr)

	return buf, nil
}

// UnmarshalBinary decodes the payload.
func (f *FreeInfo) UnmarshalBinary(buf []byte) error {
	if len(buf) != FreeInfoSize {
		return fmt.Errorf("free info must be %d bytes, got %d",
			FreeInfoSize, len(buf))
	}

	f.VAddr = binary.LittleEndian.Uint64(buf)

	return nil
}

// Request converts the payload into an engine request.
func (f FreeInfo) Request() memalloc.FreeRequest {
	return memalloc.FreeRequest{VAddr: f.VAddr}
}
