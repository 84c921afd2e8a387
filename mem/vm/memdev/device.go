package memdev

import (
	"bytes"
	"encoding"
	"fmt"
	"io"

	"github.com/sarchlab/memalloc/mem/vm/memalloc"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
)

// A Caller is the execution context a command is issued from.
type Caller struct {
	// Space is the address space of the calling process.
	Space *pagetable.AddressSpace

	// Memory is the caller-owned memory the payload argument points into.
	Memory io.ReaderAt
}

// Device dispatches commands to an allocation engine.
type Device struct {
	name   string
	engine *memalloc.Engine
}

// NewDevice creates a device in front of the engine.
func NewDevice(name string, engine *memalloc.Engine) *Device {
	return &Device{name: name, engine: engine}
}

// Name returns the name of the device.
func (d *Device) Name() string {
	return d.name
}

// Engine returns the engine that serves the commands.
func (d *Device) Engine() *memalloc.Engine {
	return d.engine
}

// Ioctl runs a command. Arg is the offset of the payload in the caller
// memory. The payload is copied into device memory before it is looked at.
func (d *Device) Ioctl(caller Caller, cmd Command, arg uint64) Status {
	switch cmd {
	case CmdAllocate:
		var info AllocInfo
		if err := copyFromCaller(caller, arg, cmd.PayloadSize(), &info); err != nil {
			return StatusOf(err)
		}

		_, err := d.engine.Allocate(caller.Space, info.Request())

		return StatusOf(err)
	case CmdFree:
		var info FreeInfo
		if err := copyFromCaller(caller, arg, cmd.PayloadSize(), &info); err != nil {
			return StatusOf(err)
		}

		d.engine.Release(caller.Space, info.Request())

		return StatusOK
	}

	return StatusInvalidCommand
}

// Allocate encodes info into a private buffer and issues CmdAllocate.
func (d *Device) Allocate(space *pagetable.AddressSpace, info AllocInfo) Status {
	return d.issue(space, CmdAllocate, info)
}

// Free encodes info into a private buffer and issues CmdFree.
func (d *Device) Free(space *pagetable.AddressSpace, info FreeInfo) Status {
	return d.issue(space, CmdFree, info)
}

func (d *Device) issue(
	space *pagetable.AddressSpace,
	cmd Command,
	payload encoding.BinaryMarshaler,
) Status {
	buf, err := payload.MarshalBinary()
	if err != nil {
		return StatusInvalidArgument
	}

	return d.Ioctl(Caller{Space: space, Memory: bytes.NewReader(buf)}, cmd, 0)
}

func copyFromCaller(
	caller Caller,
	arg uint64,
	size int,
	payload encoding.BinaryUnmarshaler,
) error {
	if caller.Space == nil || caller.Memory == nil {
		return ErrFault
	}

	buf := make([]byte, size)

	n, err := caller.Memory.ReadAt(buf, int64(arg))
	if n != size {
		return fmt.Errorf("%w: copied %d of %d bytes at 0x%x: %v",
			ErrFault, n, size, arg, err)
	}

	return payload.UnmarshalBinary(buf)
}
