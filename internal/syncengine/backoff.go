package syncengine

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff yields exponentially growing waits with +/-20% jitter.
type Backoff struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64
	current    time.Duration
	attempts   int
}

func NewBackoff(minDelay, maxDelay time.Duration, multiplier float64) *Backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	return &Backoff{
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		multiplier: multiplier,
		current:    minDelay,
	}
}

// Next returns the wait before the next attempt and grows the base delay.
// The result never falls below the minimum delay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(b.current))
	wait := max(b.current+jitter, b.minDelay)

	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)
	return wait
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.minDelay
	b.attempts = 0
}

// Attempts counts Next calls since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
