package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCoolingDown = errors.New("too many recent failures")

// Breaker refuses work for a cooldown period after threshold consecutive
// failures. A success clears the count.
type Breaker struct {
	mu            sync.RWMutex
	threshold     int
	cooldown      time.Duration
	failures      int
	cooldownUntil time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow returns ErrCoolingDown, annotated with the time left, while the
// breaker is open.
func (b *Breaker) Allow() error {
	if remaining := b.CooldownRemaining(); remaining > 0 {
		return fmt.Errorf("%w: retry in %s", ErrCoolingDown, remaining.Round(time.Second))
	}
	return nil
}

// RecordFailure returns true when this failure opened the breaker.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold {
		b.cooldownUntil = time.Now().Add(b.cooldown)
		b.failures = 0
		return true
	}
	return false
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.cooldownUntil = time.Time{}
}

// CooldownRemaining returns 0 when the breaker is closed.
func (b *Breaker) CooldownRemaining() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if time.Now().Before(b.cooldownUntil) {
		return time.Until(b.cooldownUntil)
	}
	return 0
}

func (b *Breaker) Failures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.failures
}
