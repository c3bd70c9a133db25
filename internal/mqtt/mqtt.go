// Package mqtt mirrors reporter frames and lifecycle events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/limit-reporter/internal/protocol"
)

// ErrQueueFull is returned when a frame could not be queued for publishing.
var ErrQueueFull = errors.New("mqtt: publish queue full")

// FramesTopic is where every frame written to the serial link is mirrored.
func FramesTopic(deviceID string) string {
	return fmt.Sprintf("limits/%s/frames", deviceID)
}

// SystemTopic carries lifecycle events for a device.
func SystemTopic(deviceID string) string {
	return fmt.Sprintf("limits/%s/system", deviceID)
}

// Publisher publishes frames and lifecycle events.
type Publisher interface {
	// PublishFrame queues a frame for the broker. It must not block.
	PublishFrame(f protocol.Frame) error

	// PublishSystem sends a lifecycle event and waits for the broker.
	PublishSystem(event SystemEvent) error

	// Close flushes and disconnects.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event such as STARTUP or SHUTDOWN.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // SIGINT or SIGTERM for SHUTDOWN
	RawPayload []byte // pre-formatted JSON; used as-is when set
	Retained   bool
}

// FramePayload is the JSON document published for each frame.
type FramePayload struct {
	Limits LimitsPayload `json:"limits"`
}

// LimitsPayload contains one frame's fields.
type LimitsPayload struct {
	Device      string `json:"device"`
	Type        string `json:"type"`
	TimestampMs uint32 `json:"timestamp_ms"`
	States      []int  `json:"states"`
	Checksum    string `json:"checksum"`
	Line        string `json:"line"`
}

// FormatFramePayload renders f as JSON. The line field is the wire text
// without its terminator.
func FormatFramePayload(f protocol.Frame) ([]byte, error) {
	states := make([]int, len(f.States))
	for i, s := range f.States {
		if s {
			states[i] = 1
		}
	}
	return json.Marshal(FramePayload{
		Limits: LimitsPayload{
			Device:      f.DeviceID,
			Type:        f.Type.String(),
			TimestampMs: f.Timestamp,
			States:      states,
			Checksum:    fmt.Sprintf("%02X", f.Checksum),
			Line:        f.String(),
		},
	})
}

// SystemPayload is used for events that carry no status snapshot (the
// last-will OFFLINE message, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	inner := SystemPayloadInner{Event: event.Event, Reason: event.Reason}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// Mirror forwards successfully written frames to a Publisher. It implements
// report.Observer.
type Mirror struct {
	Publisher Publisher
	// OnDrop, if set, is called when a frame could not be queued.
	OnDrop func()
}

// FrameSent mirrors f if it reached the serial link.
func (m *Mirror) FrameSent(f protocol.Frame, err error) {
	if err != nil || m.Publisher == nil {
		return
	}
	if perr := m.Publisher.PublishFrame(f); perr != nil && m.OnDrop != nil {
		m.OnDrop()
	}
}

// ByteIgnored is a no-op.
func (m *Mirror) ByteIgnored(byte) {}
