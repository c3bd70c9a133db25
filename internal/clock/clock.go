// Package clock provides the monotonic millisecond counter the reporter runs on.
// The counter is 32 bits wide and wraps after roughly 49.7 days; all interval
// arithmetic goes through Elapsed so a single wrap is harmless.
package clock

import "time"

// Clock is a monotonic millisecond counter.
type Clock interface {
	Millis() uint32
}

// Elapsed returns the milliseconds from since to now, tolerating one wrap of
// the counter.
func Elapsed(now, since uint32) uint32 {
	return now - since
}

// Real counts milliseconds since it was created, like a board's millis().
type Real struct {
	start time.Time
}

// NewReal returns a clock whose counter starts at zero now.
func NewReal() *Real {
	return &Real{start: time.Now()}
}

// Millis returns milliseconds since NewReal, truncated to 32 bits.
func (r *Real) Millis() uint32 {
	return uint32(time.Since(r.start).Milliseconds())
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	Now uint32
}

// NewFake returns a Fake starting at now.
func NewFake(now uint32) *Fake {
	return &Fake{Now: now}
}

// Millis returns the current fake time.
func (f *Fake) Millis() uint32 {
	return f.Now
}

// Advance moves the clock forward by ms, wrapping like the real counter.
func (f *Fake) Advance(ms uint32) {
	f.Now += ms
}
