// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"
)

// Real returns the actual current time in its location. The zero value
// reports UTC.
type Real struct {
	Location *time.Location
}

// NewReal creates a clock reporting times in loc, the site timezone.
func NewReal(loc *time.Location) Real {
	return Real{Location: loc}
}

// Now returns the current time.
func (r Real) Now() time.Time {
	if r.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(r.Location)
}

// Fake provides a controllable clock for testing.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFake creates a fake clock set to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set sets the fake current time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the fake time forward by duration d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}
