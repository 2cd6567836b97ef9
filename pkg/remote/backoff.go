package remote

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff tracks consecutive failures against the backend and spaces out
// requests with exponential delay.
type Backoff struct {
	mu           sync.RWMutex
	failureCount int
	nextAllowed  time.Time
	baseDelay    time.Duration
	maxDelay     time.Duration
}

// NewBackoff creates a new backoff manager.
func NewBackoff(baseDelay, maxDelay time.Duration) *Backoff {
	return &Backoff{baseDelay: baseDelay, maxDelay: maxDelay}
}

// Delay returns how long the caller should wait before the next request.
func (b *Backoff) Delay() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if d := time.Until(b.nextAllowed); d > 0 {
		return d
	}
	return 0
}

// RecordFailure increases the backoff delay.
func (b *Backoff) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.nextAllowed = time.Now().Add(b.calculateDelay(b.failureCount))
}

// RecordSuccess decreases the backoff delay (gradual recovery).
func (b *Backoff) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failureCount > 0 {
		b.failureCount--
	}
	if b.failureCount == 0 {
		b.nextAllowed = time.Time{}
	}
}

// State returns the current failure count and the earliest time of the next request.
func (b *Backoff) State() (failureCount int, nextAllowed time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failureCount, b.nextAllowed
}

// calculateDelay returns exponential delay with jitter.
func (b *Backoff) calculateDelay(failures int) time.Duration {
	// Exponential: baseDelay * 2^(failures-1)
	multiplier := math.Pow(2, float64(failures-1))
	delay := time.Duration(float64(b.baseDelay) * multiplier)

	if delay > b.maxDelay {
		delay = b.maxDelay
	}

	// Add 10% jitter
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}
