package syncer

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned for items rejected while the circuit breaker
// is cooling down after a run of consecutive failures.
var ErrBreakerOpen = errors.New("syncer: circuit breaker open")

// breaker trips after threshold consecutive item failures and rejects
// further items until the cool-down elapses. A single success closes it.
type breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	consecutive int
	openedAt    time.Time
	nowFunc     func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		nowFunc:   time.Now,
	}
}

// allow reports whether the next item may proceed.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openedAt.IsZero() {
		return nil
	}

	if b.nowFunc().Sub(b.openedAt) >= b.cooldown {
		// Cool-down over: half-open, let the next item probe.
		b.openedAt = time.Time{}
		b.consecutive = 0

		return nil
	}

	return ErrBreakerOpen
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive = 0
	b.openedAt = time.Time{}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if b.consecutive >= b.threshold && b.openedAt.IsZero() {
		b.openedAt = b.nowFunc()
	}
}
