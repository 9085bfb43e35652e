package httpclient

import "time"

// Clock abstracts time so limiter waits and retry sleeps can be faked in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// clockTimer adapts Clock to backoff.Timer.
type clockTimer struct {
	clock Clock
	ch    <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) { t.ch = t.clock.After(d) }
func (t *clockTimer) Stop()                 {}
func (t *clockTimer) C() <-chan time.Time   { return t.ch }
