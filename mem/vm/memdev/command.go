// Package memdev exposes an allocation engine through a device-style command
// interface. Callers pass an opcode and the location of a fixed-layout
// payload in their own memory; the device copies the payload in, runs the
// request, and answers with a status code.
package memdev

import (
	"errors"
	"fmt"

	"github.com/sarchlab/memalloc/mem/vm/memalloc"
)

// A Command is an ioctl-style opcode.
type Command uint32

const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocWrite = 1

	deviceMagic = 'M'
)

// Commands the device accepts. The payload size is part of the opcode.
const (
	CmdAllocate Command = iocWrite<<iocDirShift |
		AllocInfoSize<<iocSizeShift |
		deviceMagic<<iocTypeShift |
		1<<iocNRShift
	CmdFree Command = iocWrite<<iocDirShift |
		FreeInfoSize<<iocSizeShift |
		deviceMagic<<iocTypeShift |
		2<<iocNRShift
)

func (c Command) String() string {
	switch c {
	case CmdAllocate:
		return "ALLOCATE"
	case CmdFree:
		return "FREE"
	}

	return fmt.Sprintf("Command(0x%x)", uint32(c))
}

// PayloadSize returns the number of payload bytes encoded in the opcode.
func (c Command) PayloadSize() int {
	return int(c>>iocSizeShift) & 0x3fff
}

// Status is the code a command answers with. Zero is success and every
// failure has its own negative value.
type Status int32

// Status codes.
const (
	StatusOK                      Status = 0
	StatusAlreadyMapped           Status = -1
	StatusPageLimitExceeded       Status = -2
	StatusAllocationLimitExceeded Status = -3
	StatusOutOfMemory             Status = -12
	StatusFault                   Status = -14
	StatusInvalidArgument         Status = -22
	StatusInvalidCommand          Status = -25
)

var statusNames = map[Status]string{
	StatusOK:                      "OK",
	StatusAlreadyMapped:           "AlreadyMapped",
	StatusPageLimitExceeded:       "PageLimitExceeded",
	StatusAllocationLimitExceeded: "AllocationLimitExceeded",
	StatusOutOfMemory:             "OutOfMemory",
	StatusFault:                   "Fault",
	StatusInvalidArgument:         "InvalidArgument",
	StatusInvalidCommand:          "InvalidCommand",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("Status(%d)", int32(s))
}

// ErrFault is reported when a payload cannot be copied from the caller.
var ErrFault = errors.New("bad address")

// StatusOf maps an engine error to the status the device answers with.
// A partial allocation reports StatusOutOfMemory. Errors without a code of
// their own report StatusInvalidArgument.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, memalloc.ErrAlreadyMapped):
		return StatusAlreadyMapped
	case errors.Is(err, memalloc.ErrPageLimitExceeded):
		return StatusPageLimitExceeded
	case errors.Is(err, memalloc.ErrAllocationLimitExceeded):
		return StatusAllocationLimitExceeded
	case errors.Is(err, memalloc.ErrOutOfMemory):
		return StatusOutOfMemory
	case errors.Is(err, ErrFault):
		return StatusFault
	}

	return StatusInvalidArgument
}
