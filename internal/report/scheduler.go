// Package report runs the reporting side of the limit-switch reporter: it
// samples and debounces the inputs once per tick and decides which frames to
// send. Like logic and protocol it only depends on the standard library so the
// firmware target can use it unchanged.
package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/sweeney/limit-reporter/internal/clock"
	"github.com/sweeney/limit-reporter/internal/logic"
	"github.com/sweeney/limit-reporter/internal/protocol"
)

// Sampler reads raw electrical input levels in channel order.
type Sampler interface {
	Read(levels []bool) error
}

// Indicator shows whether any channel is pressed.
type Indicator interface {
	Set(on bool) error
}

// Transport is the serial link. ReadByte must not block.
type Transport interface {
	ReadByte() (byte, bool)
	Write(p []byte) (int, error)
}

// Observer is told about every frame sent and every ignored inbound byte.
// Implementations must return quickly and must copy Frame.States if they keep it.
type Observer interface {
	FrameSent(f protocol.Frame, err error)
	ByteIgnored(b byte)
}

// Config parameterises a Scheduler.
type Config struct {
	// HeartbeatMs is the heartbeat period; 0 disables heartbeats.
	HeartbeatMs uint32
}

// WriteError reports frames the transport failed to accept during a tick.
// The tick's state changes still happened; frames are never resent.
type WriteError struct {
	Errs []error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("report: %d frame write(s) failed: %v", len(e.Errs), errors.Join(e.Errs...))
}

func (e *WriteError) Unwrap() []error {
	return e.Errs
}

// IndicatorError reports that the indicator could not be updated. Frames and
// channel state are unaffected.
type IndicatorError struct {
	Err error
}

func (e *IndicatorError) Error() string {
	return "report: set indicator: " + e.Err.Error()
}

func (e *IndicatorError) Unwrap() error {
	return e.Err
}

// Scheduler owns the device and decides when Event, Heartbeat and Status
// frames go out. It is single-threaded: Start and Tick must be called from
// one goroutine.
type Scheduler struct {
	device    *logic.Device
	sampler   Sampler
	clock     clock.Clock
	transport Transport
	indicator Indicator
	observers []Observer
	heartbeat uint32

	encoder       *protocol.Encoder
	levels        []bool
	stable        []bool
	lastHeartbeat uint32
	writeErrs     []error
	indicatorErr  error
	started       bool
}

// New creates a Scheduler. indicator may be nil.
func New(cfg Config, device *logic.Device, sampler Sampler, clk clock.Clock, transport Transport, indicator Indicator, observers ...Observer) *Scheduler {
	return &Scheduler{
		device:    device,
		sampler:   sampler,
		clock:     clk,
		transport: transport,
		indicator: indicator,
		observers: observers,
		heartbeat: cfg.HeartbeatMs,
		encoder:   protocol.NewEncoder(device.ID(), device.Len()),
		levels:    make([]bool, device.Len()),
		stable:    make([]bool, 0, device.Len()),
	}
}

// Start seeds every channel from the current input levels and sends the
// initial Status frame. No Event is sent for the seeded state.
func (s *Scheduler) Start() error {
	now := s.clock.Millis()
	if err := s.sampler.Read(s.levels); err != nil {
		return fmt.Errorf("seed channels: %w", err)
	}
	s.writeErrs = s.writeErrs[:0]
	s.indicatorErr = nil

	s.device.Seed(s.levels)
	s.lastHeartbeat = now
	s.started = true
	s.updateIndicator()

	s.send(protocol.Status, now)
	return s.flushErrors()
}

// Tick runs one scheduler iteration, in this order:
// sample and debounce every channel, send one Event if anything committed,
// send a Heartbeat if due, then answer a pending poll with a Status frame.
//
// A sampler error aborts the tick before any state changes.
func (s *Scheduler) Tick() error {
	if !s.started {
		return errors.New("report: Tick before Start")
	}
	now := s.clock.Millis()
	if err := s.sampler.Read(s.levels); err != nil {
		return fmt.Errorf("sample channels: %w", err)
	}
	s.writeErrs = s.writeErrs[:0]
	s.indicatorErr = nil

	if s.device.Update(now, s.levels) {
		s.updateIndicator()
		s.send(protocol.Event, now)
	}

	if s.heartbeat > 0 && clock.Elapsed(now, s.lastHeartbeat) >= s.heartbeat {
		s.lastHeartbeat = now
		s.send(protocol.Heartbeat, now)
	}

	if b, ok := s.transport.ReadByte(); ok {
		if b == protocol.PollCommand {
			s.send(protocol.Status, now)
		} else {
			for _, o := range s.observers {
				o.ByteIgnored(b)
			}
		}
	}

	return s.flushErrors()
}

// Device returns the device the scheduler drives. Callers must not mutate it
// concurrently with Tick.
func (s *Scheduler) Device() *logic.Device {
	return s.device
}

// LastHeartbeat returns the clock value of the last heartbeat (or Start).
func (s *Scheduler) LastHeartbeat() uint32 {
	return s.lastHeartbeat
}

func (s *Scheduler) send(t protocol.MessageType, now uint32) {
	s.stable = s.device.Stable(s.stable[:0])
	line := s.encoder.Encode(t, now, s.stable)
	n, err := s.transport.Write(line)
	if err == nil && n != len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		err = fmt.Errorf("write %s frame: %w", t, err)
		s.writeErrs = append(s.writeErrs, err)
	}
	if len(s.observers) == 0 {
		return
	}
	f := protocol.Frame{
		DeviceID:  s.device.ID(),
		Type:      t,
		Timestamp: now,
		States:    s.stable,
		Checksum:  protocol.Checksum(line[:len(line)-len("*CC")-len(protocol.Terminator)]),
	}
	for _, o := range s.observers {
		o.FrameSent(f, err)
	}
}

func (s *Scheduler) updateIndicator() {
	if s.indicator == nil {
		return
	}
	if err := s.indicator.Set(s.device.AnyPressed()); err != nil {
		s.indicatorErr = err
	}
}

// flushErrors returns the tick's WriteError and IndicatorError, joined when
// both occurred.
func (s *Scheduler) flushErrors() error {
	var errs []error
	if len(s.writeErrs) > 0 {
		werrs := make([]error, len(s.writeErrs))
		copy(werrs, s.writeErrs)
		errs = append(errs, &WriteError{Errs: werrs})
	}
	if s.indicatorErr != nil {
		errs = append(errs, &IndicatorError{Err: s.indicatorErr})
	}
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return errors.Join(errs...)
}
