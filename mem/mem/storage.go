// Package mem provides the physical memory model that backs page frames.
package mem

import (
	"errors"
	"sync"
)

// Commonly used capacity units.
const (
	KB uint64 = 1 << 10
	MB uint64 = 1 << 20
	GB uint64 = 1 << 30
)

// ErrAddressOutOfRange is returned when an access touches bytes beyond the
// capacity of the storage.
var ErrAddressOutOfRange = errors.New(
	"accessing physical address beyond the storage capacity")

// A Storage keeps the content of the simulated physical memory.
//
// The storage manages its content in units, which have the same size as a
// page frame. Units that have never been touched do not consume host memory
// and read as zero.
type Storage struct {
	sync.Mutex
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage with the given capacity and 4 KiB units.
func NewStorage(capacity uint64) *Storage {
	return NewStorageWithUnitSize(capacity, 4*KB)
}

// NewStorageWithUnitSize creates a storage with a custom unit size. The unit
// size must be a power of two.
func NewStorageWithUnitSize(capacity, unitSize uint64) *Storage {
	if unitSize == 0 || unitSize&(unitSize-1) != 0 {
		panic("storage unit size must be a power of two")
	}

	return &Storage{
		unitSize: unitSize,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// UnitSize returns the size of a storage unit.
func (s *Storage) UnitSize() uint64 {
	return s.unitSize
}

// Read copies length bytes starting at address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	if err := s.checkRange(address, length); err != nil {
		return nil, err
	}

	res := make([]byte, length)
	offset := uint64(0)

	for offset < length {
		curr := address + offset
		baseAddr, inUnitAddr := s.parseAddress(curr)
		n := min(length-offset, s.unitSize-inUnitAddr)

		if unit, ok := s.data[baseAddr]; ok {
			copy(res[offset:offset+n], unit[inUnitAddr:inUnitAddr+n])
		}

		offset += n
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	s.Lock()
	defer s.Unlock()

	length := uint64(len(data))
	if err := s.checkRange(address, length); err != nil {
		return err
	}

	offset := uint64(0)
	for offset < length {
		curr := address + offset
		unit := s.unitAt(curr)
		_, inUnitAddr := s.parseAddress(curr)
		n := min(length-offset, s.unitSize-inUnitAddr)

		copy(unit[inUnitAddr:inUnitAddr+n], data[offset:offset+n])
		offset += n
	}

	return nil
}

// Zero clears the unit that contains address.
func (s *Storage) Zero(address uint64) error {
	s.Lock()
	defer s.Unlock()

	if err := s.checkRange(address, 1); err != nil {
		return err
	}

	baseAddr, _ := s.parseAddress(address)
	unit, ok := s.data[baseAddr]
	if !ok {
		return nil
	}

	clear(unit)

	return nil
}

// TouchedUnits returns the number of units that hold host memory.
func (s *Storage) TouchedUnits() int {
	s.Lock()
	defer s.Unlock()

	return len(s.data)
}

func (s *Storage) checkRange(address, length uint64) error {
	if address >= s.capacity || length > s.capacity-address {
		return ErrAddressOutOfRange
	}

	return nil
}

func (s *Storage) unitAt(address uint64) []byte {
	baseAddr, _ := s.parseAddress(address)

	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr & (s.unitSize - 1)
	baseAddr = addr - inUnitAddr

	return baseAddr, inUnitAddr
}
