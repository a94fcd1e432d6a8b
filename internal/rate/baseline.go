package rate

import "sync"

// Baseline tracks how much a counter grew since the first reading it saw.
// A decrease rebases on the accumulated total so the session figure never
// goes backwards.
type Baseline struct {
	mu      sync.Mutex
	started bool
	base    uint64
	last    uint64
	carried uint64
}

// Since returns the growth of the counter since the first call.
func (b *Baseline) Since(value uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		b.started = true
		b.base = value
		b.last = value
		return 0
	}
	if value < b.last {
		b.carried += b.last - b.base
		b.base = 0
	}
	b.last = value
	return b.carried + value - b.base
}
