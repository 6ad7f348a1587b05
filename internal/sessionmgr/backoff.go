package sessionmgr

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff implements the reconnect delay sequence: start at 1.0
// second, multiply by 1.5 on every failed reconnect, and once the
// running value exceeds 1 second, return 115+uniform(0,10) seconds
// instead of the raw value.
type Backoff struct {
	mu    sync.Mutex
	value float64 // seconds
	randF func() float64
}

// NewBackoff returns a Backoff at its initial 1.0 second value.
func NewBackoff() *Backoff {
	return &Backoff{value: 1.0, randF: rand.Float64}
}

// Next returns the next delay in the sequence and advances the
// internal state.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.value
	b.value *= 1.5

	if current > 1 {
		seconds := 115 + 10*b.randF()
		return time.Duration(seconds * float64(time.Second))
	}
	return time.Duration(current * float64(time.Second))
}

// Reset returns the sequence to its initial 1.0 second value, called
// on every successful READY.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = 1.0
}
