// Package consumer drives the broker session: it connects, consumes
// deliveries one at a time, acknowledges each outcome and reconnects with
// backoff when the link drops.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ibs-source/hoover-consumer/internal/log"
	"github.com/ibs-source/hoover-consumer/internal/message"
	"github.com/ibs-source/hoover-consumer/internal/metrics"
	"github.com/ibs-source/hoover-consumer/internal/session"
)

// Options configures a Consumer.
type Options struct {
	AckMode          AckMode
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// MaxTransmitSize logs a warning for larger payloads; zero disables it.
	MaxTransmitSize int
	ReceiptTimeout  time.Duration
}

// Consumer owns one broker session.
type Consumer struct {
	id       string
	dialer   Dialer
	handler  Handler
	sinks    []ReceiptSink
	opts     Options
	machine  *session.Machine
	backoff  backoff.BackOff
	log      *log.Logger
	metrics  *metrics.Recorder
	after    func(time.Duration) <-chan time.Time
	now      func() time.Time
	handled  uint64
	rejected uint64
}

// New creates a consumer. recorder may be nil.
func New(dialer Dialer, handler Handler, opts Options, logger *log.Logger, recorder *metrics.Recorder, sinks ...ReceiptSink) *Consumer {
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = session.DefaultInitialDelay
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = session.DefaultMaxDelay
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 5 * time.Second
	}

	c := &Consumer{
		id:      uuid.NewString(),
		dialer:  dialer,
		handler: handler,
		sinks:   sinks,
		opts:    opts,
		backoff: session.NewBackoff(opts.ReconnectInitial, opts.ReconnectMax),
		log:     logger,
		metrics: recorder,
		after:   time.After,
		now:     time.Now,
	}
	c.machine = session.NewMachine(c.observe)
	return c
}

// ID returns the session identifier used as consumer tag and receipt key.
func (c *Consumer) ID() string { return c.id }

// State returns the current session state.
func (c *Consumer) State() session.State { return c.machine.State() }

// Stats returns the number of handled and rejected deliveries.
func (c *Consumer) Stats() (handled, rejected uint64) { return c.handled, c.rejected }

func (c *Consumer) observe(tr session.Transition) {
	c.log.DebugWithFields(log.Fields{
		"session": c.id,
		"event":   tr.Event.String(),
	}, "Session %s -> %s", tr.From, tr.To)
	c.metrics.Transition(tr)
}

func (c *Consumer) fire(event session.Event) {
	if _, err := c.machine.Fire(event); err != nil {
		c.log.Debug("Ignoring session event: %v", err)
	}
}

// Run consumes until ctx is cancelled or an unrecoverable error occurs.
// Cancelling ctx is the stop request: the delivery being handled still gets
// its acknowledgment before the link is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.backoff.Reset()
	for {
		if ctx.Err() != nil {
			return c.shutdown(nil)
		}

		c.fire(session.EventConnect)
		link, err := c.dialer.Dial(ctx, Subscription{
			ConsumerTag: c.id,
			AutoAck:     c.opts.AckMode == AckAuto,
			Observe:     c.fire,
		})
		if err != nil {
			c.fire(session.EventConnectFailed)
			if errors.Is(err, ErrUnrecoverable) {
				c.log.Error("Broker refused session: %v", err)
				c.shutdown(nil)
				return err
			}
			if !c.wait(ctx, err) {
				return c.shutdown(nil)
			}
			continue
		}

		c.fire(session.EventConsumeStarted)
		c.backoff.Reset()
		c.log.Info("Consuming (session %s, ack mode %s)", c.id, c.opts.AckMode)

		lost := c.consume(ctx, link)
		if lost == nil {
			return c.shutdown(link)
		}

		if errors.Is(lost, ErrConsumerCancelled) {
			c.fire(session.EventConsumerCancelled)
		} else {
			c.fire(session.EventConnectionLost)
		}
		if err := link.Close(); err != nil {
			c.log.Debug("Closing lost link: %v", err)
		}
		if errors.Is(lost, ErrUnrecoverable) {
			c.log.Error("Broker closed session: %v", lost)
			c.shutdown(nil)
			return lost
		}
		if !c.wait(ctx, lost) {
			return c.shutdown(nil)
		}
	}
}

// wait sleeps for the next backoff delay. It returns false when ctx ends first.
func (c *Consumer) wait(ctx context.Context, cause error) bool {
	if !c.machine.ShouldReconnect() {
		return false
	}
	delay := c.backoff.NextBackOff()
	c.metrics.Reconnect()
	c.log.Warn("Broker unavailable (%v), reconnecting in %s", cause, delay)
	select {
	case <-ctx.Done():
		return false
	case <-c.after(delay):
		return true
	}
}

// consume processes deliveries until ctx ends (nil) or the link goes down.
func (c *Consumer) consume(ctx context.Context, link Link) error {
	deliveries := link.Deliveries()
	done := link.Done()
	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			if err == nil {
				err = ErrLinkClosed
			}
			return err
		case msg, ok := <-deliveries:
			if !ok {
				select {
				case err := <-done:
					if err != nil {
						return err
					}
				default:
				}
				return ErrLinkClosed
			}
			if err := c.process(link, msg); err != nil {
				return err
			}
		}
	}
}

// process handles one delivery and settles it.
func (c *Consumer) process(link Link, msg message.Inbound) error {
	size := len(msg.Content)
	if c.opts.MaxTransmitSize > 0 && size > c.opts.MaxTransmitSize {
		c.log.Warn("Delivery %d is %d bytes, above max_transmit_size %d", msg.DeliveryTag, size, c.opts.MaxTransmitSize)
	}

	outcome := c.handler.Handle(msg)
	c.handled++
	if !outcome.Accepted() {
		c.rejected++
	}

	var settleErr error
	if c.opts.AckMode == AckExplicit {
		switch outcome.Action() {
		case message.ActionAck:
			settleErr = link.Ack(msg.DeliveryTag)
		default:
			settleErr = link.Nack(msg.DeliveryTag)
		}
	}

	c.metrics.Delivery(outcome, size)
	c.log.DebugWithFields(log.Fields{
		"delivery_tag": msg.DeliveryTag,
		"redelivered":  msg.Redelivered,
		"bytes":        size,
	}, "Delivery %s", outcome)
	c.publish(message.NewReceipt(c.id, msg, outcome, c.now()))

	if settleErr != nil {
		return fmt.Errorf("%w: %s delivery %d: %v", ErrLinkClosed, outcome.Action(), msg.DeliveryTag, settleErr)
	}
	return nil
}

func (c *Consumer) publish(receipt message.Receipt) {
	if len(c.sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReceiptTimeout)
	defer cancel()
	for _, sink := range c.sinks {
		if err := sink.Record(ctx, receipt); err != nil {
			c.log.Warn("Failed to record receipt for delivery %d: %v", receipt.DeliveryTag, err)
		}
	}
}

// shutdown performs the stop sequence and closes the receipt sinks.
func (c *Consumer) shutdown(link Link) error {
	c.fire(session.EventStop)
	var errs []error
	if link != nil {
		if err := link.Cancel(); err != nil {
			c.log.Debug("Cancelling consumer: %v", err)
		}
		if err := link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker link: %w", err))
		}
	}
	c.fire(session.EventClosed)
	for _, sink := range c.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close receipt sink: %w", err))
		}
	}
	c.log.Info("Session %s closed (%d handled, %d rejected)", c.id, c.handled, c.rejected)
	return errors.Join(errs...)
}
