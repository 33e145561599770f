package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/tee-signing-gateway/interfaces"
	"github.com/ruteri/tee-signing-gateway/metrics"
	"go.uber.org/atomic"
)

const (
	DefaultOutboxBuffer   = 1024
	DefaultOutboxDelivery = 10 * time.Second
)

// Outbox is a bounded queue of signature requests drained by one dispatcher
// goroutine into a ThresholdSigner. Enqueue never blocks. Delivery results
// are logged and counted but never reported back to the caller.
type Outbox struct {
	signer  interfaces.ThresholdSigner
	timeout time.Duration
	log     *slog.Logger

	queue chan *interfaces.SignatureRequest

	// mu orders Enqueue sends against the close in Stop.
	mu      sync.RWMutex
	stopped bool
	once    sync.Once
	wg      sync.WaitGroup

	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// NewOutbox creates a stopped outbox delivering to signer. Non-positive buffer
// and timeout select DefaultOutboxBuffer and DefaultOutboxDelivery.
func NewOutbox(signer interfaces.ThresholdSigner, buffer int, timeout time.Duration, log *slog.Logger) *Outbox {
	if buffer <= 0 {
		buffer = DefaultOutboxBuffer
	}
	if timeout <= 0 {
		timeout = DefaultOutboxDelivery
	}
	if log == nil {
		log = slog.Default()
	}
	return &Outbox{
		signer:  signer,
		timeout: timeout,
		log:     log,
		queue:   make(chan *interfaces.SignatureRequest, buffer),
	}
}

// Start launches the dispatcher. Calling it more than once has no effect.
func (o *Outbox) Start() {
	o.once.Do(func() {
		o.wg.Add(1)
		go o.run()
	})
}

// Stop refuses new requests and waits for queued ones to be delivered. If the
// dispatcher was never started, queued requests are counted as dropped.
func (o *Outbox) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	o.once.Do(func() {
		for req := range o.queue {
			o.drop(req, "never started")
		}
		metrics.SetOutboxDepth(0)
	})

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("outbox stop: %w", ctx.Err())
	}
}

func (o *Outbox) Enqueue(req *interfaces.SignatureRequest) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.stopped {
		o.drop(req, "stopped")
		return false
	}

	select {
	case o.queue <- req:
		metrics.SetOutboxDepth(len(o.queue))
		return true
	default:
		o.drop(req, "full")
		return false
	}
}

func (o *Outbox) drop(req *interfaces.SignatureRequest, reason string) {
	o.dropped.Inc()
	metrics.RecordOutboxDrop()
	o.log.Warn("Signature request dropped", slog.String("request_id", req.RequestID), slog.String("reason", reason))
}

// Len is the number of requests waiting for delivery.
func (o *Outbox) Len() int {
	return len(o.queue)
}

func (o *Outbox) Dropped() uint64   { return o.dropped.Load() }
func (o *Outbox) Delivered() uint64 { return o.delivered.Load() }
func (o *Outbox) Failed() uint64    { return o.failed.Load() }

func (o *Outbox) run() {
	defer o.wg.Done()

	for req := range o.queue {
		metrics.SetOutboxDepth(len(o.queue))

		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		err := o.signer.Submit(ctx, req)
		cancel()

		metrics.RecordDelivery(err == nil)
		if err != nil {
			o.failed.Inc()
			o.log.Error("Failed to deliver signature request",
				slog.String("request_id", req.RequestID),
				slog.String("caller", req.Caller.String()),
				"err", err)
			continue
		}
		o.delivered.Inc()
	}
}
