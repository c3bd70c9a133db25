package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/limit-reporter/internal/protocol"
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	DeviceID string

	// ClientID defaults to one derived from the host's machine id.
	ClientID string

	// QueueSize bounds frames waiting for the publish worker.
	QueueSize int

	// BacklogSize bounds messages kept while the broker is unreachable.
	BacklogSize int

	// ConnectTimeout bounds the initial connection attempts.
	ConnectTimeout time.Duration
}

const (
	defaultQueueSize   = 256
	defaultBacklogSize = 1024
	publishTimeout     = 5 * time.Second
)

// RealPublisher publishes to a broker from a worker goroutine so callers
// never wait on the network. Messages produced while disconnected are kept
// in a backlog and replayed on reconnect.
type RealPublisher struct {
	client      paho.Client
	framesTopic string
	systemTopic string
	logger      *zap.Logger

	queue  chan message
	wg     sync.WaitGroup
	closed atomic.Bool

	mu      sync.Mutex
	backlog *backlog
}

// ClientID returns a stable per-host MQTT client id.
func ClientID(deviceID string) string {
	id, err := machineid.ProtectedID("limit-reporter")
	if err != nil {
		return "limit-reporter-" + deviceID
	}
	return "limit-reporter-" + id[:12]
}

// NewRealPublisher connects to the broker, retrying with exponential backoff
// until ConnectTimeout passes or ctx is cancelled.
func NewRealPublisher(ctx context.Context, opts Options, logger *zap.Logger) (*RealPublisher, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.BacklogSize <= 0 {
		opts.BacklogSize = defaultBacklogSize
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = ClientID(opts.DeviceID)
	}

	p := &RealPublisher{
		framesTopic: FramesTopic(opts.DeviceID),
		systemTopic: SystemTopic(opts.DeviceID),
		logger:      logger.With(zap.String("broker", opts.Broker)),
		queue:       make(chan message, opts.QueueSize),
		backlog:     newBacklog(opts.BacklogSize),
	}

	will, err := FormatSystemPayload(SystemEvent{Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30*time.Second).
		SetBinaryWill(p.systemTopic, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt connection lost", zap.Error(err))
		})
	p.client = paho.NewClient(clientOpts)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opts.ConnectTimeout
	err = backoff.RetryNotify(func() error {
		token := p.client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("connection timeout")
		}
		return token.Error()
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		p.logger.Warn("mqtt connect failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", opts.Broker, err)
	}

	p.wg.Add(1)
	go p.worker()
	return p, nil
}

// PublishFrame queues f for the worker. It returns ErrQueueFull rather than
// wait.
func (p *RealPublisher) PublishFrame(f protocol.Frame) error {
	if p.closed.Load() {
		return fmt.Errorf("mqtt: publisher closed")
	}
	payload, err := FormatFramePayload(f)
	if err != nil {
		return fmt.Errorf("format frame payload: %w", err)
	}
	select {
	case p.queue <- message{topic: p.framesTopic, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

// PublishSystem sends a lifecycle event at QoS 1 and waits for the broker.
// When disconnected the event goes to the backlog instead.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(message{topic: p.systemTopic, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the client is currently connected.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close drains the queue and disconnects.
func (p *RealPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.queue)
	p.wg.Wait()
	p.client.Disconnect(1000)
	return nil
}

func (p *RealPublisher) worker() {
	defer p.wg.Done()
	for msg := range p.queue {
		if err := p.publish(msg); err != nil {
			p.logger.Debug("frame publish deferred", zap.Error(err))
		}
	}
}

func (p *RealPublisher) publish(msg message) error {
	if !p.client.IsConnectionOpen() {
		p.keep(msg)
		return fmt.Errorf("mqtt: not connected")
	}
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		p.keep(msg)
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.keep(msg)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (p *RealPublisher) keep(msg message) {
	p.mu.Lock()
	overwrote := p.backlog.add(msg)
	held, lost := p.backlog.len(), p.backlog.overwritten()
	p.mu.Unlock()
	if overwrote {
		p.logger.Warn("mqtt backlog full, dropping oldest message",
			zap.Int("backlog", held), zap.Uint64("dropped_total", lost))
	}
}

// onConnect replays the backlog. paho calls it on its own goroutine.
func (p *RealPublisher) onConnect(client paho.Client) {
	p.mu.Lock()
	pending := p.backlog.take()
	p.mu.Unlock()

	p.logger.Info("mqtt connected", zap.Int("replaying", len(pending)))

	reconnected, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
	client.Publish(p.systemTopic, 1, false, reconnected)

	for _, msg := range pending {
		token := client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			p.keep(msg)
		}
	}
}
