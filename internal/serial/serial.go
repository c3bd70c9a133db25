// Package serial carries frames to the host over a serial line and hands
// inbound command bytes to the scheduler without ever blocking it.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tarm/serial"
	"go.uber.org/zap"
)

// Port is an open serial device.
type Port interface {
	io.ReadWriteCloser
}

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "/dev/serial0")
	Device string

	// Baud rate
	Baud int

	// Read timeout; bounds how long the reader goroutine waits before
	// rechecking for shutdown.
	ReadTimeout time.Duration
}

// DefaultConfig returns the line settings the original firmware used.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Open opens a native serial port.
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path is empty")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	return port, nil
}

// OpenWithRetry keeps trying to open the port with exponential backoff until
// maxElapsed passes or ctx is cancelled. USB serial adapters often appear a
// moment after boot.
func OpenWithRetry(ctx context.Context, cfg Config, maxElapsed time.Duration, logger *zap.Logger) (Port, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	var port Port
	err := backoff.RetryNotify(func() error {
		p, err := Open(cfg)
		if err != nil {
			return err
		}
		port = p
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		logger.Warn("serial open failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}
