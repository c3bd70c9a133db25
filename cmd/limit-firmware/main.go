//go:build tinygo

// Command limit-firmware runs the reporter on a microcontroller under TinyGo:
// twelve limit switches on pins 2..13 (pulled down, active high), frames on
// the default UART and the on-board LED lit while any switch is pressed.
package main

import (
	"machine"

	"github.com/sweeney/limit-reporter/internal/clock"
	"github.com/sweeney/limit-reporter/internal/logic"
	"github.com/sweeney/limit-reporter/internal/report"
)

const (
	deviceID    = "D01"
	firstPin    = 2
	channels    = 12
	debounceMs  = 25
	heartbeatMs = 1000
	baudRate    = 115200
)

// pins samples the configured input pins in channel order.
type pins []machine.Pin

func (p pins) Read(levels []bool) error {
	for i, pin := range p {
		levels[i] = pin.Get()
	}
	return nil
}

// uart adapts machine.Serial to the scheduler's non-blocking transport.
type uart struct {
	port machine.Serialer
}

func (u uart) ReadByte() (byte, bool) {
	if u.port.Buffered() == 0 {
		return 0, false
	}
	b, err := u.port.ReadByte()
	return b, err == nil
}

func (u uart) Write(p []byte) (int, error) {
	return u.port.Write(p)
}

// led drives the on-board LED.
type led machine.Pin

func (l led) Set(on bool) error {
	machine.Pin(l).Set(on)
	return nil
}

func main() {
	machine.Serial.Configure(machine.UARTConfig{BaudRate: baudRate})

	inputs := make(pins, channels)
	for i := range inputs {
		inputs[i] = machine.Pin(firstPin + i)
		inputs[i].Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	}
	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	device := logic.NewDevice(deviceID, debounceMs, make([]bool, channels))
	sched := report.New(report.Config{HeartbeatMs: heartbeatMs}, device, inputs, clock.NewReal(),
		uart{port: machine.Serial}, led(machine.LED))

	// Errors cannot be reported anywhere but the link that failed.
	_ = sched.Start()
	for {
		_ = sched.Tick()
	}
}
