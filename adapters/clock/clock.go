// Package clock implements the ports.Clock used by payment expiry,
// renewal scheduling and the sweeper. Billing logic never calls
// time.Now directly so that tests can steer time.
package clock

import (
	"sync"
	"time"
)

// Real is the wall clock used in production.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

// Fake is a hand-steered clock for tests. Safe for concurrent use,
// since renewal and sweeper tests read it from worker goroutines.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFake returns a Fake frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set jumps the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the clock forward by d. Subscription expiry tests use
// this to cross grace and renewal boundaries without sleeping.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}
