package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Device        string        `json:"device"`
	Channels      []ChannelJSON `json:"channels"`
	Pressed       int           `json:"pressed"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	LastFrame     string        `json:"last_frame,omitempty"`
	Serial        SerialStatus  `json:"serial"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"frame_counts"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// ChannelJSON is one row of the channel table.
type ChannelJSON struct {
	ID          int    `json:"id"`
	Pin         int    `json:"pin"`
	State       string `json:"state"`
	Transitions uint64 `json:"transitions"`
	Commits     uint64 `json:"commits"`
}

// SerialStatus reports the serial link.
type SerialStatus struct {
	Device       string `json:"device"`
	Baud         int    `json:"baud"`
	DroppedBytes uint64 `json:"dropped_bytes"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of frame counts.
type CountsJSON struct {
	Event        uint64 `json:"event"`
	Heartbeat    uint64 `json:"heartbeat"`
	Status       uint64 `json:"status"`
	WriteErrors  uint64 `json:"write_errors"`
	IgnoredBytes uint64 `json:"ignored_bytes"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	HTTPAddr    string `json:"http_addr"`
}

// StateString renders a channel state for humans.
func StateString(pressed bool) string {
	if pressed {
		return "PRESSED"
	}
	return "RELEASED"
}

func buildInner(snap Snapshot) StatusInner {
	channels := make([]ChannelJSON, len(snap.Channels))
	for i, ch := range snap.Channels {
		channels[i] = ChannelJSON{
			ID:          ch.ID,
			Pin:         ch.Pin,
			State:       StateString(ch.Pressed),
			Transitions: ch.Transitions,
			Commits:     ch.Commits,
		}
	}

	inner := StatusInner{
		Device:        snap.Config.DeviceID,
		Channels:      channels,
		Pressed:       snap.Pressed(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		LastFrame:     snap.LastFrame,
		Serial: SerialStatus{
			Device:       snap.Config.SerialDevice,
			Baud:         snap.Config.Baud,
			DroppedBytes: snap.SerialDropped,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Event:        snap.Counts.Event,
			Heartbeat:    snap.Counts.Heartbeat,
			Status:       snap.Counts.Status,
			WriteErrors:  snap.Counts.WriteErrors,
			IgnoredBytes: snap.Counts.IgnoredBytes,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
