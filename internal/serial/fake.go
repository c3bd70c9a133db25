package serial

import (
	"bytes"
	"strings"
)

// FakeTransport records written frames and replays scripted inbound bytes.
type FakeTransport struct {
	// Inbound bytes returned one per ReadByte call.
	Inbound []byte

	// Written accumulates everything passed to Write.
	Written bytes.Buffer

	// WriteError, if set, will be returned by Write.
	WriteError error
}

// NewFakeTransport creates a FakeTransport with queued inbound bytes.
func NewFakeTransport(inbound ...byte) *FakeTransport {
	return &FakeTransport{Inbound: inbound}
}

// ReadByte pops the next inbound byte.
func (f *FakeTransport) ReadByte() (byte, bool) {
	if len(f.Inbound) == 0 {
		return 0, false
	}
	b := f.Inbound[0]
	f.Inbound = f.Inbound[1:]
	return b, true
}

// Queue appends inbound bytes.
func (f *FakeTransport) Queue(b ...byte) {
	f.Inbound = append(f.Inbound, b...)
}

// Write records p.
func (f *FakeTransport) Write(p []byte) (int, error) {
	if f.WriteError != nil {
		return 0, f.WriteError
	}
	return f.Written.Write(p)
}

// Lines returns every complete line written, terminators included.
func (f *FakeTransport) Lines() []string {
	var lines []string
	for _, l := range strings.SplitAfter(f.Written.String(), "\r\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// Reset clears recorded output.
func (f *FakeTransport) Reset() {
	f.Written.Reset()
	f.Inbound = nil
	f.WriteError = nil
}
