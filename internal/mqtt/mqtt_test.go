package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/limit-reporter/internal/protocol"
)

func eventFrame() protocol.Frame {
	return protocol.Frame{
		DeviceID:  "D01",
		Type:      protocol.Event,
		Timestamp: 1035,
		States:    []bool{true, false},
		Checksum:  0x00,
	}
}

func TestTopics(t *testing.T) {
	if got := FramesTopic("D01"); got != "limits/D01/frames" {
		t.Errorf("frames topic: got %s", got)
	}
	if got := SystemTopic("D01"); got != "limits/D01/system" {
		t.Errorf("system topic: got %s", got)
	}
}

func TestFormatFramePayloadExactJSON(t *testing.T) {
	payload, err := FormatFramePayload(eventFrame())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"limits":{"device":"D01","type":"EVENT","timestamp_ms":1035,"states":[1,0],"checksum":"00","line":"D01,E,1035,[1,0]*00"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatFramePayloadAllTypes(t *testing.T) {
	tests := []struct {
		typ  protocol.MessageType
		want string
	}{
		{protocol.Event, "EVENT"},
		{protocol.Status, "STATUS"},
		{protocol.Heartbeat, "HEARTBEAT"},
	}
	for _, tt := range tests {
		f := eventFrame()
		f.Type = tt.typ
		payload, err := FormatFramePayload(f)
		if err != nil {
			t.Fatalf("%s: %v", tt.want, err)
		}
		var parsed FramePayload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Fatalf("%s: invalid JSON: %v", tt.want, err)
		}
		if parsed.Limits.Type != tt.want {
			t.Errorf("type: got %s, want %s", parsed.Limits.Type, tt.want)
		}
	}
}

func TestFormatFramePayloadLineParses(t *testing.T) {
	f := protocol.Frame{DeviceID: "D01", Type: protocol.Status, Timestamp: 1500, States: []bool{false, true}, Checksum: 0x15}
	payload, err := FormatFramePayload(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed FramePayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Limits.Checksum != "15" {
		t.Errorf("checksum: got %s, want 15", parsed.Limits.Checksum)
	}
	back, err := protocol.ParseFrame([]byte(parsed.Limits.Line))
	if err != nil {
		t.Fatalf("line does not parse: %v", err)
	}
	if back.Timestamp != 1500 || back.Type != protocol.Status {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	event := SystemEvent{Timestamp: time.Date(2026, 2, 3, 20, 0, 0, 0, loc), Event: "RECONNECTED"}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed SystemPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Timestamp != "2026-02-03T10:00:00Z" {
		t.Errorf("timestamp: got %s", parsed.System.Timestamp)
	}
}

func TestWillPayload(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Event: "OFFLINE"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != `{"system":{"event":"OFFLINE"}}` {
		t.Errorf("unexpected will: %s", payload)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"system":{"event":"STARTUP","config":{}}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestMirrorForwardsWrittenFrames(t *testing.T) {
	pub := NewFakePublisher()
	m := &Mirror{Publisher: pub}

	f := eventFrame()
	m.FrameSent(f, nil)
	m.FrameSent(f, errors.New("write failed"))
	m.ByteIgnored('x')

	if len(pub.Frames) != 1 {
		t.Fatalf("expected 1 mirrored frame, got %d", len(pub.Frames))
	}
	f.States[0] = false
	if !pub.Frames[0].States[0] {
		t.Error("mirrored frame shares its States slice with the caller")
	}
}

func TestMirrorReportsDrops(t *testing.T) {
	pub := NewFakePublisher()
	pub.PublishError = ErrQueueFull
	drops := 0
	m := &Mirror{Publisher: pub, OnDrop: func() { drops++ }}

	m.FrameSent(eventFrame(), nil)
	m.FrameSent(eventFrame(), nil)
	if drops != 2 {
		t.Errorf("drops: got %d, want 2", drops)
	}
}

func TestMirrorWithoutPublisher(t *testing.T) {
	m := &Mirror{}
	m.FrameSent(eventFrame(), nil)
}

func TestFakePublisher(t *testing.T) {
	pub := NewFakePublisher()
	if err := pub.PublishFrame(eventFrame()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pub.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.Payloads) != 1 || len(pub.SystemPayloads) != 1 {
		t.Fatalf("payloads not recorded: %d frames, %d system", len(pub.Payloads), len(pub.SystemPayloads))
	}
	if !pub.SystemEvents[0].Retained {
		t.Error("retained flag not recorded")
	}

	pub.PublishSystemError = errors.New("broker down")
	if err := pub.PublishSystem(SystemEvent{Event: "SHUTDOWN"}); err == nil {
		t.Error("expected error")
	}

	pub.Close()
	if !pub.Closed {
		t.Error("Close not recorded")
	}

	pub.Reset()
	if len(pub.Frames) != 0 || len(pub.SystemEvents) != 0 || pub.Closed || pub.PublishSystemError != nil {
		t.Errorf("Reset left state behind: %+v", pub)
	}
}
