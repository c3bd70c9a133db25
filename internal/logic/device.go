package logic

import (
	"fmt"

	"github.com/sweeney/limit-reporter/internal/clock"
)

// Device owns the fixed, ordered channel set of one reporter instance.
// It is not safe for concurrent use; the scheduler is its only writer.
type Device struct {
	id       string
	debounce uint32
	channels []Channel
}

// NewDevice creates a device with one channel per entry in activeLow, in order.
func NewDevice(id string, debounceMs uint32, activeLow []bool) *Device {
	channels := make([]Channel, len(activeLow))
	for i, low := range activeLow {
		channels[i] = Channel{ID: i, ActiveLow: low}
	}
	return &Device{id: id, debounce: debounceMs, channels: channels}
}

// ID returns the device identifier embedded in every frame.
func (d *Device) ID() string {
	return d.id
}

// Len returns the number of channels.
func (d *Device) Len() int {
	return len(d.channels)
}

// Channel returns a copy of channel i.
func (d *Device) Channel(i int) Channel {
	return d.channels[i]
}

// Seed initialises every channel from the current levels: Raw and Stable both
// take the sampled value and no change is reported.
func (d *Device) Seed(levels []bool) {
	d.mustMatch(levels)
	for i := range d.channels {
		ch := &d.channels[i]
		ch.Raw = ch.Sample(levels[i])
		ch.Stable = ch.Raw
		ch.LastChange = 0
	}
}

// Update runs one debounce step for every channel and reports whether any
// channel's stable state was committed on this tick.
//
// Every raw flip restarts that channel's window; the stable state follows only
// after the raw value has held for the full debounce interval.
func (d *Device) Update(now uint32, levels []bool) bool {
	d.mustMatch(levels)
	changed := false
	for i := range d.channels {
		ch := &d.channels[i]
		raw := ch.Sample(levels[i])
		if raw != ch.Raw {
			ch.Raw = raw
			ch.LastChange = now
			ch.Transitions++
		}
		if clock.Elapsed(now, ch.LastChange) >= d.debounce && raw != ch.Stable {
			ch.Stable = raw
			ch.Commits++
			changed = true
		}
	}
	return changed
}

// Stable appends the stable vector in channel order to dst.
func (d *Device) Stable(dst []bool) []bool {
	for i := range d.channels {
		dst = append(dst, d.channels[i].Stable)
	}
	return dst
}

// AnyPressed reports whether at least one channel is stably pressed.
func (d *Device) AnyPressed() bool {
	for i := range d.channels {
		if d.channels[i].Stable {
			return true
		}
	}
	return false
}

// Stats returns per-channel counters.
func (d *Device) Stats() []ChannelStats {
	out := make([]ChannelStats, len(d.channels))
	for i, ch := range d.channels {
		out[i] = ChannelStats{ID: ch.ID, Stable: ch.Stable, Transitions: ch.Transitions, Commits: ch.Commits}
	}
	return out
}

func (d *Device) mustMatch(levels []bool) {
	if len(levels) != len(d.channels) {
		panic(fmt.Sprintf("logic: got %d levels for %d channels", len(levels), len(d.channels)))
	}
}
