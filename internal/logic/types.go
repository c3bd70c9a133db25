// Package logic contains the pure debounce state machine for limit switches.
// This package has NO external dependencies (no GPIO, serial, OS, or time.Sleep).
// Time is always injected as a 32-bit millisecond counter value.
package logic

// Channel is one monitored switch.
type Channel struct {
	// Index into the device's channel set; also the wire array position.
	ID int
	// Polarity: a low electrical level means pressed.
	ActiveLow bool
	// Last polarity-corrected sample (may be noisy).
	Raw bool
	// Debounced state, the only value reported externally.
	Stable bool
	// Clock value at which Raw most recently flipped.
	LastChange uint32

	// Counters for observability, never put on the wire.
	Transitions uint64
	Commits     uint64
}

// Sample converts an electrical level into the logical "pressed" value.
func (c *Channel) Sample(level bool) bool {
	return level != c.ActiveLow
}

// ChannelStats is a snapshot of one channel's counters.
type ChannelStats struct {
	ID          int
	Stable      bool
	Transitions uint64
	Commits     uint64
}
