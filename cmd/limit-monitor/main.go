// Command limit-monitor is the receiving end of the serial link: it reads
// frames, verifies their checksums, drops corrupt ones and logs the rest.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/limit-reporter/internal/protocol"
	"github.com/sweeney/limit-reporter/internal/serial"
)

func main() {
	device := flag.String("serial", "/dev/ttyUSB0", "Serial device the reporter is attached to")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	poll := flag.Bool("poll", true, "Send a status poll after opening the port")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logCfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "limit-monitor: %v\n", err)
		os.Exit(2)
	}
	logCfg.Level = lvl
	logCfg.OutputPaths = []string{"stdout"}
	logger := zap.Must(logCfg.Build())
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Blocking reads: a read timeout would end the line scanner.
	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	cfg.ReadTimeout = 0
	if err := run(ctx, cfg, *poll, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(ctx context.Context, cfg serial.Config, poll bool, logger *zap.Logger) error {
	port, err := serial.OpenWithRetry(ctx, cfg, 30*time.Second, logger)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	if poll {
		if _, err := port.Write([]byte{protocol.PollCommand}); err != nil {
			return fmt.Errorf("send poll: %w", err)
		}
	}

	stats, err := monitor(port, logger)
	logger.Info("stopped", zap.Int("frames", stats.Frames), zap.Int("dropped", stats.Dropped))
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Stats counts what monitor saw.
type Stats struct {
	Frames  int
	Dropped int
}

// monitor reads CRLF-terminated frames from r until it ends.
func monitor(r io.Reader, logger *zap.Logger) (Stats, error) {
	var stats Stats
	last := make(map[string]protocol.Frame)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
			continue
		}
		f, err := protocol.ParseFrame(line)
		if err != nil {
			stats.Dropped++
			logger.Warn("dropping frame", zap.ByteString("line", line), zap.Error(err))
			continue
		}
		stats.Frames++

		fields := []zap.Field{
			zap.String("device", f.DeviceID),
			zap.Stringer("type", f.Type),
			zap.Uint32("timestamp_ms", f.Timestamp),
			zap.String("states", statesString(f.States)),
		}
		if prev, ok := last[f.DeviceID]; ok && f.Timestamp < prev.Timestamp {
			fields = append(fields, zap.Bool("clock_wrapped_or_reset", true))
		}
		last[f.DeviceID] = f
		logger.Info("frame", fields...)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return stats, fmt.Errorf("read serial: %w", err)
	}
	return stats, nil
}

func statesString(states []bool) string {
	b := make([]byte, len(states))
	for i, s := range states {
		b[i] = '0'
		if s {
			b[i] = '1'
		}
	}
	return string(b)
}
