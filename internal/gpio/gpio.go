// Package gpio provides limit-switch input reading with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the raw electrical levels of the configured input lines.
type Reader interface {
	// Read fills levels (one entry per configured line, in configuration
	// order) with true for a high level. Polarity is applied by the caller.
	Read(levels []bool) error

	// Close releases GPIO resources.
	Close() error
}

// Indicator drives a single status output, such as an on-board LED.
type Indicator interface {
	Set(on bool) error
	Close() error
}

// Bias is the input termination requested for a line.
type Bias string

const (
	BiasPullDown Bias = "down"
	BiasPullUp   Bias = "up"
	BiasNone     Bias = "none"
)

// Valid reports whether b is a known bias.
func (b Bias) Valid() bool {
	return b == BiasPullDown || b == BiasPullUp || b == BiasNone
}

// Line identifies one input line and how to terminate it.
type Line struct {
	Pin  int
	Bias Bias
}

// DefaultChip is the GPIO character device used on Raspberry Pi boards.
const DefaultChip = "gpiochip0"

// NopIndicator is used when no indicator pin is configured.
type NopIndicator struct{}

func (NopIndicator) Set(bool) error { return nil }
func (NopIndicator) Close() error   { return nil }
