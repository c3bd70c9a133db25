// Package config loads daemon settings from LIMIT_* environment variables and
// command-line flags, and validates them before any hardware is touched.
package config

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"

	"github.com/sweeney/limit-reporter/internal/gpio"
)

// Channel is one row of the channel table. Table order is wire order.
type Channel struct {
	Pin       int
	Bias      gpio.Bias
	ActiveLow bool
}

// Config holds every daemon setting. Flags override the environment.
type Config struct {
	DeviceID     string        `env:"LIMIT_DEVICE_ID" envDefault:"D01"`
	Channels     string        `env:"LIMIT_CHANNELS" envDefault:"2..13:down"`
	Debounce     time.Duration `env:"LIMIT_DEBOUNCE" envDefault:"25ms"`
	Heartbeat    time.Duration `env:"LIMIT_HEARTBEAT" envDefault:"1s"`
	Poll         time.Duration `env:"LIMIT_POLL" envDefault:"1ms"`
	SerialDevice string        `env:"LIMIT_SERIAL_DEVICE" envDefault:"/dev/ttyAMA0"`
	Baud         int           `env:"LIMIT_BAUD" envDefault:"115200"`
	GPIOChip     string        `env:"LIMIT_GPIO_CHIP"`
	LEDPin       int           `env:"LIMIT_LED_PIN" envDefault:"-1"`
	Broker       string        `env:"LIMIT_MQTT_BROKER"`
	HTTPAddr     string        `env:"LIMIT_HTTP_ADDR" envDefault:":8080"`
	LogLevel     string        `env:"LIMIT_LOG_LEVEL" envDefault:"info"`
	PrintState   bool          `env:"-"`

	// Table is the parsed form of Channels, filled by Load.
	Table []Channel `env:"-"`
}

// Load reads the environment, applies flags from args and validates the result.
func Load(args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.GPIOChip == "" {
		cfg.GPIOChip = gpio.DefaultChip
	}

	fs := flag.NewFlagSet("limit-reporter", flag.ContinueOnError)
	fs.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "Device identifier embedded in every frame")
	fs.StringVar(&cfg.Channels, "channels", cfg.Channels, "Channel table: comma list of pin[:bias[:low]], pin may be a range a..b")
	fs.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "Debounce interval")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.DurationVar(&cfg.Poll, "poll", cfg.Poll, "Tick interval")
	fs.StringVar(&cfg.SerialDevice, "serial", cfg.SerialDevice, "Serial device for frames")
	fs.IntVar(&cfg.Baud, "baud", cfg.Baud, "Serial baud rate")
	fs.StringVar(&cfg.GPIOChip, "gpio-chip", cfg.GPIOChip, "GPIO character device")
	fs.IntVar(&cfg.LEDPin, "led-pin", cfg.LEDPin, "Indicator LED pin (-1 to disable)")
	fs.StringVar(&cfg.Broker, "broker", cfg.Broker, "MQTT broker for the frame mirror (empty to disable)")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP status address (empty to disable)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.BoolVar(&cfg.PrintState, "print-state", false, "Print current input state and exit")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	table, err := ParseChannels(cfg.Channels)
	if err != nil {
		return cfg, err
	}
	cfg.Table = table

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseChannels parses a channel table such as "2..13:down" or
// "4:up:low,5,6:none". Bias defaults to pull-down; "low" marks the
// channel active-low.
func ParseChannels(s string) ([]Channel, error) {
	var table []Channel
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) > 3 {
			return nil, fmt.Errorf("channel %q: too many fields", item)
		}

		pins, err := parsePins(parts[0])
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", item, err)
		}
		bias := gpio.BiasPullDown
		if len(parts) > 1 && parts[1] != "" {
			bias = gpio.Bias(parts[1])
		}
		activeLow := false
		if len(parts) > 2 {
			switch parts[2] {
			case "low":
				activeLow = true
			case "high", "":
			default:
				return nil, fmt.Errorf("channel %q: polarity must be high or low", item)
			}
		}

		table = append(table, lo.Map(pins, func(pin int, _ int) Channel {
			return Channel{Pin: pin, Bias: bias, ActiveLow: activeLow}
		})...)
	}
	return table, nil
}

func parsePins(s string) ([]int, error) {
	from, to, isRange := strings.Cut(s, "..")
	first, err := strconv.Atoi(from)
	if err != nil {
		return nil, fmt.Errorf("bad pin %q", from)
	}
	if !isRange {
		return []int{first}, nil
	}
	last, err := strconv.Atoi(to)
	if err != nil {
		return nil, fmt.Errorf("bad pin %q", to)
	}
	if last < first {
		return nil, fmt.Errorf("empty pin range %s", s)
	}
	pins := make([]int, 0, last-first+1)
	for p := first; p <= last; p++ {
		pins = append(pins, p)
	}
	return pins, nil
}

// Validate reports every problem with cfg at once.
func (c Config) Validate() error {
	var errs []error

	if err := ValidateDeviceID(c.DeviceID); err != nil {
		errs = append(errs, err)
	}

	if len(c.Table) == 0 {
		errs = append(errs, errors.New("no channels configured"))
	}
	pins := lo.Map(c.Table, func(ch Channel, _ int) int { return ch.Pin })
	for _, p := range lo.FindDuplicates(pins) {
		errs = append(errs, fmt.Errorf("pin %d configured more than once", p))
	}
	for _, ch := range c.Table {
		if ch.Pin < 0 {
			errs = append(errs, fmt.Errorf("pin %d is negative", ch.Pin))
		}
		if !ch.Bias.Valid() {
			errs = append(errs, fmt.Errorf("pin %d: unknown bias %q", ch.Pin, ch.Bias))
		}
	}
	if c.LEDPin >= 0 && lo.Contains(pins, c.LEDPin) {
		errs = append(errs, fmt.Errorf("led pin %d is also an input", c.LEDPin))
	}

	errs = append(errs, checkMillis("debounce", c.Debounce)...)
	errs = append(errs, checkMillis("heartbeat", c.Heartbeat)...)
	if c.Poll <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Baud <= 0 {
		errs = append(errs, fmt.Errorf("baud %d must be positive", c.Baud))
	}
	if c.SerialDevice == "" {
		errs = append(errs, errors.New("serial device is required"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}

// ValidateDeviceID rejects ids that would break frame parsing.
func ValidateDeviceID(id string) error {
	if id == "" {
		return errors.New("device id is empty")
	}
	for _, r := range id {
		if r < 0x20 || r >= 0x7f || strings.ContainsRune(",*[]", r) {
			return fmt.Errorf("device id %q contains %q", id, r)
		}
	}
	return nil
}

func checkMillis(name string, d time.Duration) []error {
	switch {
	case d < 0:
		return []error{fmt.Errorf("%s %v is negative", name, d)}
	case d%time.Millisecond != 0:
		return []error{fmt.Errorf("%s %v is not a whole number of milliseconds", name, d)}
	case d.Milliseconds() > math.MaxUint32:
		return []error{fmt.Errorf("%s %v does not fit in uint32 milliseconds", name, d)}
	}
	return nil
}

// DebounceMs is the debounce interval in clock units.
func (c Config) DebounceMs() uint32 { return uint32(c.Debounce.Milliseconds()) }

// HeartbeatMs is the heartbeat interval in clock units; 0 disables heartbeats.
func (c Config) HeartbeatMs() uint32 { return uint32(c.Heartbeat.Milliseconds()) }

// Lines returns the GPIO lines in channel order.
func (c Config) Lines() []gpio.Line {
	return lo.Map(c.Table, func(ch Channel, _ int) gpio.Line {
		return gpio.Line{Pin: ch.Pin, Bias: ch.Bias}
	})
}

// ActiveLow returns each channel's polarity in channel order.
func (c Config) ActiveLow() []bool {
	return lo.Map(c.Table, func(ch Channel, _ int) bool { return ch.ActiveLow })
}
