package gpio

import (
	"errors"
	"fmt"
)

// FakeReader is a test double that returns scripted GPIO levels.
type FakeReader struct {
	// Samples contains scripted level vectors to return.
	// Each call to Read() consumes the next sample.
	Samples [][]bool

	// index tracks current position in Samples
	index int

	// Reads counts calls to Read.
	Reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...[]bool) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read copies the next scripted sample into levels.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read(levels []bool) error {
	f.Reads++
	if f.ReadError != nil {
		return f.ReadError
	}

	if len(f.Samples) == 0 {
		return errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if len(sample) != len(levels) {
		return fmt.Errorf("sample %d has %d levels, want %d", f.index, len(sample), len(levels))
	}
	copy(levels, sample)
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = 0
	f.Reads = 0
	f.Closed = false
}

// FakeIndicator records every value it is set to.
type FakeIndicator struct {
	Values []bool
	Closed bool

	// SetError, if set, will be returned by Set and nothing is recorded.
	SetError error
}

// Set records on.
func (f *FakeIndicator) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.Values = append(f.Values, on)
	return nil
}

// On reports the last value set.
func (f *FakeIndicator) On() bool {
	return len(f.Values) > 0 && f.Values[len(f.Values)-1]
}

// Close marks the indicator as closed.
func (f *FakeIndicator) Close() error {
	f.Closed = true
	return nil
}
