// Package receipts fans delivery receipts out to their sinks off the
// delivery path.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ibs-source/hoover-consumer/internal/log"
	"github.com/ibs-source/hoover-consumer/internal/message"
	"github.com/ibs-source/hoover-consumer/internal/metrics"
)

var (
	// ErrQueueFull is returned when the receipt buffer is full; the receipt
	// is dropped.
	ErrQueueFull = errors.New("receipt queue full")
	// ErrClosed is returned by Record after Close.
	ErrClosed = errors.New("receipt dispatcher closed")
)

// Sink stores or forwards receipts
type Sink interface {
	Record(ctx context.Context, receipt message.Receipt) error
	Close() error
}

// Options configures a Dispatcher
type Options struct {
	Buffer  int
	Workers int
	Timeout time.Duration
}

// Dispatcher queues receipts and publishes them from worker goroutines
type Dispatcher struct {
	sinks   []Sink
	queue   chan message.Receipt
	timeout time.Duration
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Uint64
	log     *log.Logger
	metrics *metrics.Recorder
}

// New creates a dispatcher and starts its publish workers. A single worker
// keeps receipts in delivery order.
func New(sinks []Sink, opts Options, logger *log.Logger, recorder *metrics.Recorder) *Dispatcher {
	if opts.Buffer < 1 {
		opts.Buffer = 1024
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan message.Receipt, opts.Buffer),
		timeout: opts.Timeout,
		log:     logger,
		metrics: recorder,
	}

	logger.Debug("Starting %d receipt publish workers for %d sinks", opts.Workers, len(sinks))
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.publishLoop()
		}()
	}
	return d
}

// Record enqueues a receipt without blocking.
func (d *Dispatcher) Record(_ context.Context, receipt message.Receipt) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- receipt:
		return nil
	default:
		d.dropped.Add(1)
		return fmt.Errorf("%w: dropped receipt for delivery %d", ErrQueueFull, receipt.DeliveryTag)
	}
}

// Dropped returns the number of receipts dropped on a full queue.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// publishLoop publishes queued receipts until the queue is closed
func (d *Dispatcher) publishLoop() {
	for receipt := range d.queue {
		d.publish(receipt)
	}
}

func (d *Dispatcher) publish(receipt message.Receipt) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Record(ctx, receipt)
		cancel()
		d.metrics.Receipt(err)
		if err != nil {
			d.log.Error("Failed to publish receipt for delivery %d: %v", receipt.DeliveryTag, err)
			continue
		}
		d.log.Trace("Published receipt for delivery %d", receipt.DeliveryTag)
	}
}

// Close drains the queue, waits for the workers and closes every sink.
func (d *Dispatcher) Close() error {
	var errs []error
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		d.wg.Wait()
		for _, sink := range d.sinks {
			if err := sink.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if n := d.dropped.Load(); n > 0 {
			d.log.Warn("%d receipts were dropped on a full queue", n)
		}
	})
	return errors.Join(errs...)
}
