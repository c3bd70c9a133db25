package mqtt

import (
	"github.com/sweeney/limit-reporter/internal/protocol"
)

// FakePublisher records published frames and events for test assertions.
type FakePublisher struct {
	// Frames contains every frame that was published.
	Frames []protocol.Frame

	// Payloads contains the JSON payloads for Frames.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishFrame.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishFrame records f. States is copied.
func (f *FakePublisher) PublishFrame(frame protocol.Frame) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	frame.States = append([]bool(nil), frame.States...)
	f.Frames = append(f.Frames, frame)

	payload, err := FormatFramePayload(frame)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded frames and events.
func (f *FakePublisher) Reset() {
	*f = FakePublisher{}
}
