package sim

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs.
type IDGenerator interface {
	// Generate an ID
	Generate() string
}

// NewSequentialIDGenerator creates a generator that counts up from 1. The IDs
// are deterministic as long as requests arrive in the same order.
func NewSequentialIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

// NewParallelIDGenerator creates a generator that produces globally unique
// IDs. The IDs are not deterministic.
func NewParallelIDGenerator() IDGenerator {
	return parallelIDGenerator{}
}

type sequentialIDGenerator struct {
	nextID atomic.Uint64
}

func (g *sequentialIDGenerator) Generate() string {
	return strconv.FormatUint(g.nextID.Add(1), 10)
}

type parallelIDGenerator struct{}

func (g parallelIDGenerator) Generate() string {
	return xid.New().String()
}
