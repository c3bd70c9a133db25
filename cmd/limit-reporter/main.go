// Command limit-reporter samples limit switches on GPIO, debounces them and
// reports state frames over a serial link. Frames are optionally mirrored to
// MQTT, and daemon state is served over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/limit-reporter/internal/clock"
	"github.com/sweeney/limit-reporter/internal/config"
	"github.com/sweeney/limit-reporter/internal/gpio"
	"github.com/sweeney/limit-reporter/internal/logic"
	"github.com/sweeney/limit-reporter/internal/metrics"
	"github.com/sweeney/limit-reporter/internal/mqtt"
	"github.com/sweeney/limit-reporter/internal/protocol"
	"github.com/sweeney/limit-reporter/internal/report"
	"github.com/sweeney/limit-reporter/internal/serial"
	"github.com/sweeney/limit-reporter/internal/status"
	"github.com/sweeney/limit-reporter/internal/web"
)

const (
	serialOpenTimeout  = 30 * time.Second
	mqttConnectTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "limit-reporter: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "limit-reporter: %v\n", err)
		os.Exit(2)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logCfg.Level = lvl
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func run(cfg config.Config, logger *zap.Logger) error {
	reader, err := gpio.NewRealReader(cfg.GPIOChip, cfg.Lines())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	device := logic.NewDevice(cfg.DeviceID, cfg.DebounceMs(), cfg.ActiveLow())

	if cfg.PrintState {
		return printState(reader, device, cfg)
	}

	var indicator gpio.Indicator = gpio.NopIndicator{}
	if cfg.LEDPin >= 0 {
		led, err := gpio.NewRealIndicator(cfg.GPIOChip, cfg.LEDPin)
		if err != nil {
			return fmt.Errorf("init indicator: %w", err)
		}
		indicator = led
	}
	defer indicator.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serialCfg := serial.DefaultConfig(cfg.SerialDevice)
	serialCfg.Baud = cfg.Baud
	port, err := serial.OpenWithRetry(ctx, serialCfg, serialOpenTimeout, logger)
	if err != nil {
		return fmt.Errorf("open serial: %w", err)
	}
	link := serial.NewTransport(port, logger.Named("serial"))
	defer link.Close()

	m := metrics.New(cfg.DeviceID)
	m.RegisterSerialDropped(link.Dropped)

	var publisher mqtt.Publisher = nopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if cfg.Broker != "" {
		p, err := mqtt.NewRealPublisher(ctx, mqtt.Options{
			Broker:         cfg.Broker,
			DeviceID:       cfg.DeviceID,
			ConnectTimeout: mqttConnectTimeout,
		}, logger.Named("mqtt"))
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher, mqttStatus = p, p
	}
	defer publisher.Close()

	pins := make([]int, len(cfg.Table))
	for i, ch := range cfg.Table {
		pins[i] = ch.Pin
	}
	tracker := status.NewTracker(time.Now(), status.Config{
		DeviceID:     cfg.DeviceID,
		Pins:         pins,
		PollMs:       cfg.Poll.Milliseconds(),
		DebounceMs:   cfg.Debounce.Milliseconds(),
		HeartbeatMs:  cfg.Heartbeat.Milliseconds(),
		SerialDevice: cfg.SerialDevice,
		Baud:         cfg.Baud,
		Broker:       cfg.Broker,
		HTTPAddr:     cfg.HTTPAddr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	sched := report.New(report.Config{HeartbeatMs: cfg.HeartbeatMs()}, device, reader, clock.NewReal(), link, indicator,
		m, tracker, &mqtt.Mirror{Publisher: publisher, OnDrop: m.MQTTDropped})

	d := &daemon{
		sched:      sched,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		metrics:    m,
		link:       link,
		logger:     logger,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return link.Run(ctx)
	})

	if err := d.start(); err != nil {
		cancel()
		_ = eg.Wait()
		return err
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, m.Handler(), logger.Named("web"))
		eg.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
		logger.Info("http status server listening", zap.String("addr", cfg.HTTPAddr))
	}

	logger.Info("started",
		zap.String("device", cfg.DeviceID),
		zap.Int("channels", len(cfg.Table)),
		zap.Duration("poll", cfg.Poll),
		zap.Duration("debounce", cfg.Debounce),
		zap.Duration("heartbeat", cfg.Heartbeat),
		zap.String("serial", cfg.SerialDevice),
		zap.String("broker", cfg.Broker))

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	eg.Go(func() error {
		defer cancel()
		return d.runLoop(ctx, ticker.C, sigCh)
	})
	return eg.Wait()
}

// daemon ties the scheduler to the outer surfaces. Every method runs on the
// scheduler goroutine.
type daemon struct {
	sched      *report.Scheduler
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // nil when MQTT is disabled
	tracker    *status.Tracker
	metrics    *metrics.Metrics // optional
	link       interface{ Dropped() uint64 }
	logger     *zap.Logger
}

// start seeds the channels, sends the startup Status frame and announces
// STARTUP on MQTT. Only a sampler failure is fatal.
func (d *daemon) start() error {
	if err := d.sched.Start(); err != nil {
		if !tickCompleted(err) {
			return fmt.Errorf("start scheduler: %w", err)
		}
		d.logger.Warn("startup incomplete", zap.Error(err))
	}
	d.refresh()

	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.logger.Warn("failed to publish startup event", zap.Error(err))
	}
	return nil
}

func (d *daemon) runLoop(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case s := <-sig:
			d.logger.Info("shutting down", zap.Stringer("signal", s))
			d.shutdown(signalName(s))
			return nil

		case <-tick:
			if err := d.sched.Tick(); err != nil {
				if tickCompleted(err) {
					d.logger.Warn("tick incomplete", zap.Error(err))
				} else {
					d.logger.Warn("tick skipped", zap.Error(err))
					continue
				}
			}
			d.refresh()
		}
	}
}

// tickCompleted reports whether the scheduler applied the tick despite err.
func tickCompleted(err error) bool {
	var werr *report.WriteError
	var ierr *report.IndicatorError
	return errors.As(err, &werr) || errors.As(err, &ierr)
}

func (d *daemon) refresh() {
	stats := d.sched.Device().Stats()
	d.tracker.Update(stats)
	if d.metrics != nil {
		d.metrics.ObserveChannels(stats)
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	if d.link != nil {
		d.tracker.SetSerialDropped(d.link.Dropped())
	}
}

func (d *daemon) shutdown(reason string) {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "SHUTDOWN",
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.logger.Warn("failed to publish shutdown event", zap.Error(err))
	} else {
		d.logger.Info("published shutdown event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// printState reads every channel once and prints it with the frame that a
// status poll would produce at time zero.
func printState(reader gpio.Reader, device *logic.Device, cfg config.Config) error {
	levels := make([]bool, device.Len())
	if err := reader.Read(levels); err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	device.Seed(levels)
	for _, s := range device.Stats() {
		fmt.Printf("ch%-2d pin %-3d %s\n", s.ID, cfg.Table[s.ID].Pin, status.StateString(s.Stable))
	}
	frame := protocol.AppendFrame(nil, device.ID(), protocol.Status, 0, device.Stable(nil))
	fmt.Print(string(frame))
	return nil
}

// nopPublisher is used when no broker is configured.
type nopPublisher struct{}

func (nopPublisher) PublishFrame(protocol.Frame) error    { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (nopPublisher) Close() error                         { return nil }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
