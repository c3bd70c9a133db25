package serial

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"go.uber.org/zap"
)

// inboundCapacity bounds how many unread command bytes are kept.
const inboundCapacity = 64

// Transport wraps a Port with a non-blocking inbound byte queue. Run must be
// started on its own goroutine; ReadByte and Write are called by the scheduler.
type Transport struct {
	port    Port
	inbound chan byte
	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewTransport wraps port.
func NewTransport(port Port, logger *zap.Logger) *Transport {
	return &Transport{
		port:    port,
		inbound: make(chan byte, inboundCapacity),
		logger:  logger,
	}
}

// Run copies inbound bytes into the queue until ctx is done or the port fails.
// Bytes arriving while the queue is full are dropped.
func (t *Transport) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		// Unblocks a pending Read.
		t.port.Close()
	}()

	buf := make([]byte, 32)
	for {
		n, err := t.port.Read(buf)
		for _, b := range buf[:n] {
			select {
			case t.inbound <- b:
			default:
				if t.dropped.Add(1) == 1 {
					t.logger.Warn("serial inbound queue full, dropping bytes")
				}
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			// tarm/serial reports a read timeout as io.EOF with no data.
			if errors.Is(err, io.EOF) {
				continue
			}
			return err
		}
	}
}

// ReadByte returns the next inbound byte if one is queued. It never blocks.
func (t *Transport) ReadByte() (byte, bool) {
	select {
	case b := <-t.inbound:
		return b, true
	default:
		return 0, false
	}
}

// Write sends one encoded frame.
func (t *Transport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

// Dropped returns the number of inbound bytes lost to a full queue.
func (t *Transport) Dropped() uint64 {
	return t.dropped.Load()
}

// Close closes the underlying port.
func (t *Transport) Close() error {
	return t.port.Close()
}
