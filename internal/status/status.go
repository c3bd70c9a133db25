// Package status provides a thread-safe status tracker for the limit-reporter
// daemon. The scheduler goroutine writes to it; HTTP handlers read from it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/limit-reporter/internal/logic"
	"github.com/sweeney/limit-reporter/internal/protocol"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	DeviceID     string
	Pins         []int
	PollMs       int64
	DebounceMs   int64
	HeartbeatMs  int64
	SerialDevice string
	Baud         int
	Broker       string
	HTTPAddr     string
}

// ChannelState is one channel's debounced state and counters.
type ChannelState struct {
	ID          int
	Pin         int
	Pressed     bool
	Transitions uint64
	Commits     uint64
}

// FrameCounts counts serial traffic since start.
type FrameCounts struct {
	Event        uint64
	Heartbeat    uint64
	Status       uint64
	WriteErrors  uint64
	IgnoredBytes uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Channels      []ChannelState
	Counts        FrameCounts
	LastFrame     string
	LastFrameAt   time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	SerialDropped uint64
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Pressed returns how many channels are pressed.
func (s Snapshot) Pressed() int {
	n := 0
	for _, ch := range s.Channels {
		if ch.Pressed {
			n++
		}
	}
	return n
}

// Tracker holds mutable daemon state behind an RWMutex.
// It implements report.Observer.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	channels := make([]ChannelState, len(cfg.Pins))
	for i, pin := range cfg.Pins {
		channels[i] = ChannelState{ID: i, Pin: pin}
	}
	return &Tracker{
		snap: Snapshot{
			Channels:  channels,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update copies per-channel state from the device.
func (t *Tracker) Update(stats []logic.ChannelStats) {
	t.mu.Lock()
	for _, s := range stats {
		if s.ID < 0 || s.ID >= len(t.snap.Channels) {
			continue
		}
		ch := &t.snap.Channels[s.ID]
		ch.Pressed = s.Stable
		ch.Transitions = s.Transitions
		ch.Commits = s.Commits
	}
	t.mu.Unlock()
}

// FrameSent counts a frame and remembers the last one written.
func (t *Tracker) FrameSent(f protocol.Frame, err error) {
	line := f.String()
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.snap.Counts.WriteErrors++
		return
	}
	switch f.Type {
	case protocol.Event:
		t.snap.Counts.Event++
	case protocol.Heartbeat:
		t.snap.Counts.Heartbeat++
	case protocol.Status:
		t.snap.Counts.Status++
	}
	t.snap.LastFrame = line
	t.snap.LastFrameAt = now
}

// ByteIgnored counts an unrecognised inbound byte.
func (t *Tracker) ByteIgnored(byte) {
	t.mu.Lock()
	t.snap.Counts.IgnoredBytes++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetSerialDropped records the number of inbound bytes the transport dropped.
func (t *Tracker) SetSerialDropped(n uint64) {
	t.mu.Lock()
	t.snap.SerialDropped = n
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Channels = append([]ChannelState(nil), t.snap.Channels...)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
