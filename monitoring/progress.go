package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar tracks how many requests of a batch have been served.
type ProgressBar struct {
	sync.Mutex
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Succeeded uint64    `json:"succeeded"`
	Failed    uint64    `json:"failed"`
}

// Succeed counts a request that was served.
func (b *ProgressBar) Succeed() {
	b.Lock()
	defer b.Unlock()

	b.Succeeded++
}

// Fail counts a request that was rejected.
func (b *ProgressBar) Fail() {
	b.Lock()
	defer b.Unlock()

	b.Failed++
}

// Done returns the number of requests that have finished either way.
func (b *ProgressBar) Done() uint64 {
	b.Lock()
	defer b.Unlock()

	return b.Succeeded + b.Failed
}
