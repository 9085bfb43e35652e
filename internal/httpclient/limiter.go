package httpclient

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most limit call starts within any rolling window.
// Callers block in Wait until a slot frees; they are never rejected.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	clock  Clock
	starts []time.Time
}

// NewLimiter builds a limiter; a nil clock means the wall clock.
func NewLimiter(limit int, window time.Duration, clock Clock) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Limiter{
		limit:  limit,
		window: window,
		clock:  clock,
		starts: make([]time.Time, 0, limit),
	}
}

// Wait blocks until a call may start and records the start. A nil limiter never blocks.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.clock.Now()
		l.prune(now)
		if len(l.starts) < l.limit {
			l.starts = append(l.starts, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.starts[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

func (l *Limiter) prune(now time.Time) {
	drop := 0
	for drop < len(l.starts) && now.Sub(l.starts[drop]) >= l.window {
		drop++
	}
	if drop > 0 {
		l.starts = append(l.starts[:0], l.starts[drop:]...)
	}
}
