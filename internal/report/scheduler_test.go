package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/limit-reporter/internal/clock"
	"github.com/sweeney/limit-reporter/internal/gpio"
	"github.com/sweeney/limit-reporter/internal/logic"
	"github.com/sweeney/limit-reporter/internal/protocol"
	"github.com/sweeney/limit-reporter/internal/serial"
)

// inputs is a settable sampler.
type inputs struct {
	levels []bool
	err    error
}

func (in *inputs) Read(levels []bool) error {
	if in.err != nil {
		return in.err
	}
	copy(levels, in.levels)
	return nil
}

type recordingObserver struct {
	frames  []protocol.Frame
	errs    []error
	ignored []byte
}

func (r *recordingObserver) FrameSent(f protocol.Frame, err error) {
	f.States = append([]bool(nil), f.States...)
	r.frames = append(r.frames, f)
	r.errs = append(r.errs, err)
}

func (r *recordingObserver) ByteIgnored(b byte) {
	r.ignored = append(r.ignored, b)
}

type harness struct {
	sched     *Scheduler
	in        *inputs
	clk       *clock.Fake
	tr        *serial.FakeTransport
	indicator *gpio.FakeIndicator
	obs       *recordingObserver
}

func newHarness(t *testing.T, heartbeatMs uint32, initial ...bool) *harness {
	t.Helper()
	h := &harness{
		in:        &inputs{levels: append([]bool(nil), initial...)},
		clk:       clock.NewFake(0),
		tr:        serial.NewFakeTransport(),
		indicator: &gpio.FakeIndicator{},
		obs:       &recordingObserver{},
	}
	device := logic.NewDevice("D01", 25, make([]bool, len(initial)))
	h.sched = New(Config{HeartbeatMs: heartbeatMs}, device, h.in, h.clk, h.tr, h.indicator, h.obs)
	return h
}

// tickAt sets the clock and input levels, then runs one tick.
func (h *harness) tickAt(t *testing.T, now uint32, levels ...bool) {
	t.Helper()
	h.clk.Now = now
	if len(levels) > 0 {
		h.in.levels = levels
	}
	require.NoError(t, h.sched.Tick())
}

func (h *harness) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	var out []protocol.Frame
	for _, line := range h.tr.Lines() {
		f, err := protocol.ParseFrame([]byte(line))
		require.NoError(t, err, "line %q", line)
		out = append(out, f)
	}
	return out
}

func framesOfType(frames []protocol.Frame, typ protocol.MessageType) []protocol.Frame {
	var out []protocol.Frame
	for _, f := range frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func TestStartSendsStatusWithoutEvent(t *testing.T) {
	h := newHarness(t, 1000, true, false)
	h.clk.Now = 20
	require.NoError(t, h.sched.Start())

	assert.Equal(t, []string{"D01,S,20,[1,0]*" + hex(t, "D01,S,20,[1,0]") + "\r\n"}, h.tr.Lines())
	assert.Equal(t, uint32(20), h.sched.LastHeartbeat())
	assert.True(t, h.indicator.On())

	// Seeded state is not reported again as an Event.
	h.tickAt(t, 100)
	assert.Empty(t, framesOfType(h.frames(t), protocol.Event))
}

func TestStartSamplerError(t *testing.T) {
	h := newHarness(t, 1000, false)
	h.in.err = errors.New("gpio fault")
	assert.Error(t, h.sched.Start())
	assert.Empty(t, h.tr.Lines())
}

func TestTickBeforeStart(t *testing.T) {
	h := newHarness(t, 1000, false)
	assert.Error(t, h.sched.Tick())
}

func TestBounceThenHoldEmitsOneEvent(t *testing.T) {
	h := newHarness(t, 0, false, false)
	require.NoError(t, h.sched.Start())

	h.tickAt(t, 1000, true, false)
	h.tickAt(t, 1005, false, false)
	h.tickAt(t, 1010, true, false)
	for now := uint32(1011); now < 1035; now++ {
		h.tickAt(t, now)
	}
	assert.Empty(t, framesOfType(h.frames(t), protocol.Event), "no event before the hold reaches 25ms")

	h.tickAt(t, 1035)
	for now := uint32(1036); now < 1200; now++ {
		h.tickAt(t, now)
	}

	events := framesOfType(h.frames(t), protocol.Event)
	require.Len(t, events, 1)
	assert.Equal(t, uint32(1035), events[0].Timestamp)
	assert.Equal(t, []bool{true, false}, events[0].States)
}

func TestSimultaneousChangesCoalesceIntoOneEvent(t *testing.T) {
	h := newHarness(t, 0, false, false)
	require.NoError(t, h.sched.Start())

	h.tickAt(t, 100, true, true)
	h.tickAt(t, 125)

	events := framesOfType(h.frames(t), protocol.Event)
	require.Len(t, events, 1)
	assert.Equal(t, []bool{true, true}, events[0].States)
}

func TestHeartbeatCadence(t *testing.T) {
	const (
		heartbeat = 1000
		duration  = 10500
	)
	h := newHarness(t, heartbeat, false, true)
	require.NoError(t, h.sched.Start())

	for now := uint32(1); now <= duration; now++ {
		h.tickAt(t, now)
	}

	beats := framesOfType(h.frames(t), protocol.Heartbeat)
	assert.InDelta(t, duration/heartbeat, len(beats), 1)
	prev := uint32(0)
	for _, b := range beats {
		assert.GreaterOrEqual(t, b.Timestamp-prev, uint32(heartbeat))
		assert.Equal(t, []bool{false, true}, b.States)
		prev = b.Timestamp
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	h := newHarness(t, 0, false)
	require.NoError(t, h.sched.Start())
	for now := uint32(0); now < 5000; now += 10 {
		h.tickAt(t, now)
	}
	assert.Empty(t, framesOfType(h.frames(t), protocol.Heartbeat))
}

func TestHeartbeatAcrossClockWrap(t *testing.T) {
	h := newHarness(t, 1000, false)
	h.clk.Now = math.MaxUint32 - 499
	require.NoError(t, h.sched.Start())

	h.tickAt(t, 499) // 999ms after start, across the wrap
	assert.Empty(t, framesOfType(h.frames(t), protocol.Heartbeat))

	h.tickAt(t, 500)
	beats := framesOfType(h.frames(t), protocol.Heartbeat)
	require.Len(t, beats, 1)
	assert.Equal(t, uint32(500), beats[0].Timestamp)
}

func TestPollSendsStatusWithoutResettingHeartbeat(t *testing.T) {
	h := newHarness(t, 1000, false, true)
	require.NoError(t, h.sched.Start())

	h.tr.Queue('?')
	h.tickAt(t, 400)

	frames := h.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.Status, frames[1].Type)
	assert.Equal(t, uint32(400), frames[1].Timestamp)
	assert.Equal(t, uint32(0), h.sched.LastHeartbeat(), "poll must not touch the heartbeat timer")

	h.tickAt(t, 1000)
	assert.Len(t, framesOfType(h.frames(t), protocol.Heartbeat), 1)
}

func TestPollInSameTickAsHeartbeat(t *testing.T) {
	h := newHarness(t, 1000, false, false)
	require.NoError(t, h.sched.Start())
	h.tr.Reset()

	h.tr.Queue('?')
	h.tickAt(t, 1000)

	frames := h.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.Heartbeat, frames[0].Type)
	assert.Equal(t, protocol.Status, frames[1].Type)
	assert.Equal(t, uint32(1000), h.sched.LastHeartbeat())
}

func TestTickOrderEventHeartbeatStatus(t *testing.T) {
	h := newHarness(t, 1000, false)
	require.NoError(t, h.sched.Start())
	h.tickAt(t, 975, true)
	h.tr.Reset()

	h.tr.Queue('?')
	h.tickAt(t, 1000)

	frames := h.frames(t)
	require.Len(t, frames, 3)
	assert.Equal(t, protocol.Event, frames[0].Type)
	assert.Equal(t, protocol.Heartbeat, frames[1].Type)
	assert.Equal(t, protocol.Status, frames[2].Type)
	for _, f := range frames {
		assert.Equal(t, []bool{true}, f.States, "%s frame should carry the committed state", f.Type)
	}
}

func TestRepeatedPollsAreIdempotent(t *testing.T) {
	h := newHarness(t, 0, true, false, true)
	require.NoError(t, h.sched.Start())
	h.tr.Reset()

	for i := uint32(1); i <= 5; i++ {
		h.tr.Queue('?')
		h.tickAt(t, i*100)
	}

	statuses := framesOfType(h.frames(t), protocol.Status)
	require.Len(t, statuses, 5)
	for _, s := range statuses[1:] {
		assert.Equal(t, statuses[0].States, s.States)
	}
}

func TestOneInboundByteConsumedPerTick(t *testing.T) {
	h := newHarness(t, 0, false)
	require.NoError(t, h.sched.Start())
	h.tr.Reset()

	h.tr.Queue('?', '?')
	h.tickAt(t, 10)
	assert.Len(t, h.tr.Lines(), 1)
	h.tickAt(t, 20)
	assert.Len(t, h.tr.Lines(), 2)
}

func TestUnknownBytesIgnored(t *testing.T) {
	h := newHarness(t, 0, false)
	require.NoError(t, h.sched.Start())
	h.tr.Reset()

	h.tr.Queue('x', '\n', 'S')
	for now := uint32(1); now <= 3; now++ {
		h.tickAt(t, now)
	}
	assert.Empty(t, h.tr.Lines())
	assert.Equal(t, []byte{'x', '\n', 'S'}, h.obs.ignored)
}

func TestSamplerErrorSkipsTick(t *testing.T) {
	h := newHarness(t, 1000, false)
	require.NoError(t, h.sched.Start())
	h.tr.Reset()

	h.in.err = errors.New("gpio fault")
	h.tr.Queue('?')
	h.clk.Now = 5000
	assert.Error(t, h.sched.Tick())
	assert.Empty(t, h.tr.Lines())
	assert.Equal(t, uint32(0), h.sched.LastHeartbeat())

	h.in.err = nil
	h.tickAt(t, 5001)
	frames := h.frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.Heartbeat, frames[0].Type)
	assert.Equal(t, protocol.Status, frames[1].Type)
}

func TestWriteErrorReportedButStateAdvances(t *testing.T) {
	h := newHarness(t, 1000, false)
	require.NoError(t, h.sched.Start())

	h.tickAt(t, 10, true)
	h.tr.WriteError = errors.New("port gone")
	h.clk.Now = 1000
	err := h.sched.Tick()

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Len(t, werr.Errs, 2, "event and heartbeat both failed")
	assert.ErrorIs(t, err, h.tr.WriteError)
	assert.Equal(t, uint32(1000), h.sched.LastHeartbeat())
	assert.True(t, h.sched.Device().Channel(0).Stable)

	last := h.obs.errs[len(h.obs.errs)-1]
	assert.Error(t, last)
}

// truncating accepts all but the last byte of every write without error.
type truncating struct {
	*serial.FakeTransport
}

func (tr truncating) Write(p []byte) (int, error) {
	return tr.FakeTransport.Write(p[:len(p)-1])
}

func TestShortWriteIsAWriteError(t *testing.T) {
	device := logic.NewDevice("D01", 25, []bool{false})
	obs := &recordingObserver{}
	tr := truncating{serial.NewFakeTransport()}
	s := New(Config{}, device, &inputs{levels: []bool{true}}, clock.NewFake(0), tr, nil, obs)

	err := s.Start()
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	require.Len(t, obs.errs, 1)
	assert.ErrorIs(t, obs.errs[0], io.ErrShortWrite)
}

func TestIndicatorErrorReported(t *testing.T) {
	h := newHarness(t, 0, false)
	require.NoError(t, h.sched.Start())

	h.indicator.SetError = errors.New("led line gone")
	h.clk.Now = 10
	h.in.levels = []bool{true}
	require.NoError(t, h.sched.Tick(), "indicator is only set on commit")

	h.clk.Now = 35
	err := h.sched.Tick()
	var ierr *IndicatorError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, h.indicator.SetError)
	var werr *WriteError
	assert.False(t, errors.As(err, &werr))

	events := framesOfType(h.frames(t), protocol.Event)
	require.Len(t, events, 1, "event still sent")
	assert.Equal(t, []bool{true}, events[0].States)
	assert.True(t, h.sched.Device().Channel(0).Stable)

	h.indicator.SetError = nil
	h.tickAt(t, 40)
}

func TestIndicatorAndWriteErrorsJoined(t *testing.T) {
	h := newHarness(t, 0, false)
	require.NoError(t, h.sched.Start())

	h.tickAt(t, 10, true)
	h.indicator.SetError = errors.New("led line gone")
	h.tr.WriteError = errors.New("port gone")
	h.clk.Now = 35
	err := h.sched.Tick()

	var ierr *IndicatorError
	var werr *WriteError
	assert.ErrorAs(t, err, &ierr)
	require.ErrorAs(t, err, &werr)
	assert.Len(t, werr.Errs, 1)
}

func TestIndicatorFollowsAnyPressed(t *testing.T) {
	h := newHarness(t, 0, false, false)
	require.NoError(t, h.sched.Start())
	assert.False(t, h.indicator.On())

	h.tickAt(t, 10, false, true)
	h.tickAt(t, 35)
	assert.True(t, h.indicator.On())

	h.tickAt(t, 50, false, false)
	h.tickAt(t, 75)
	assert.False(t, h.indicator.On())
}

func TestObserverSeesEveryFrame(t *testing.T) {
	h := newHarness(t, 1000, true)
	require.NoError(t, h.sched.Start())
	h.tr.Queue('?')
	h.tickAt(t, 1000)

	require.Len(t, h.obs.frames, 3)
	wire := h.frames(t)
	for i, f := range h.obs.frames {
		assert.Equal(t, wire[i], f)
		assert.NoError(t, h.obs.errs[i])
	}
}

func TestNilIndicatorAllowed(t *testing.T) {
	device := logic.NewDevice("D01", 25, []bool{false})
	tr := serial.NewFakeTransport()
	s := New(Config{}, device, &inputs{levels: []bool{true}}, clock.NewFake(0), tr, nil)
	require.NoError(t, s.Start())
	assert.Len(t, tr.Lines(), 1)
}

func hex(t *testing.T, body string) string {
	t.Helper()
	return fmt.Sprintf("%02X", protocol.Checksum([]byte(body)))
}
