package llm

import (
	"sync"
	"sync/atomic"
)

// Breaker is a one-way latch shared by every worker. Once tripped it stays
// open for the life of the process.
type Breaker struct {
	open atomic.Bool

	mu    sync.Mutex
	cause error
}

// Trip opens the breaker. It reports whether this call was the one that
// opened it.
func (b *Breaker) Trip(cause error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open.Load() {
		return false
	}
	b.cause = cause
	b.open.Store(true)
	return true
}

// Open reports whether the breaker has tripped.
func (b *Breaker) Open() bool {
	return b.open.Load()
}

// Cause returns the error that tripped the breaker, or nil.
func (b *Breaker) Cause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cause
}
