//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads GPIO from actual hardware using Linux GPIO character device.
type RealReader struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewRealReader requests every line as an input with its configured bias.
func NewRealReader(chipName string, lines []Line) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("limit-reporter"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	r := &RealReader{chip: chip}
	for _, l := range lines {
		line, err := chip.RequestLine(l.Pin, gpiocdev.AsInput, biasOption(l.Bias))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("request pin %d: %w", l.Pin, err)
		}
		r.lines = append(r.lines, line)
	}
	return r, nil
}

func biasOption(b Bias) gpiocdev.LineReqOption {
	switch b {
	case BiasPullUp:
		return gpiocdev.WithPullUp
	case BiasNone:
		return gpiocdev.WithBiasDisabled
	default:
		return gpiocdev.WithPullDown
	}
}

// Read samples every line in order.
func (r *RealReader) Read(levels []bool) error {
	if len(levels) != len(r.lines) {
		return fmt.Errorf("read gpio: %d levels for %d lines", len(levels), len(r.lines))
	}
	for i, line := range r.lines {
		v, err := line.Value()
		if err != nil {
			return fmt.Errorf("read pin %d: %w", line.Offset(), err)
		}
		levels[i] = v != 0
	}
	return nil
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults) before
// closing so attached switch wiring cannot hold pins in odd states at reboot.
func (r *RealReader) Close() error {
	var errs []error
	for _, line := range r.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", line.Offset(), err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", line.Offset(), err))
		}
	}
	r.lines = nil
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}
	return errors.Join(errs...)
}

// RealIndicator drives an output line.
type RealIndicator struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealIndicator requests pin as an output, initially low.
func NewRealIndicator(chipName string, pin int) (*RealIndicator, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("limit-reporter"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request indicator pin %d: %w", pin, err)
	}
	return &RealIndicator{chip: chip, line: line}, nil
}

// Set drives the line high when on.
func (i *RealIndicator) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return i.line.SetValue(v)
}

// Close turns the indicator off and releases the line.
func (i *RealIndicator) Close() error {
	var errs []error
	if i.line != nil {
		if err := i.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear indicator: %w", err))
		}
		if err := i.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close indicator: %w", err))
		}
	}
	if i.chip != nil {
		if err := i.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
