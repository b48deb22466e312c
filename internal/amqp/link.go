package amqp

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ibs-source/hoover-consumer/internal/consumer"
	"github.com/ibs-source/hoover-consumer/internal/log"
	"github.com/ibs-source/hoover-consumer/internal/message"
)

// link is one consuming channel on one connection.
type link struct {
	conn       connection
	ch         channel
	tag        string
	requeue    bool
	deliveries chan message.Inbound
	done       chan error
	stop       chan struct{}
	closing    atomic.Bool
	closeOnce  sync.Once
	log        *log.Logger
}

func newLink(conn connection, ch channel, src <-chan amqp.Delivery, tag string, requeue bool, logger *log.Logger) *link {
	l := &link{
		conn:       conn,
		ch:         ch,
		tag:        tag,
		requeue:    requeue,
		deliveries: make(chan message.Inbound),
		done:       make(chan error, 1),
		stop:       make(chan struct{}),
		log:        logger,
	}
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	cancelled := ch.NotifyCancel(make(chan string, 1))

	go l.pump(src)
	go l.watch(connClosed, chClosed, cancelled)
	return l
}

// Inbound converts a broker delivery.
func Inbound(d amqp.Delivery) message.Inbound {
	return message.Inbound{
		Content:     d.Body,
		Headers:     message.HeadersFromTable(d.Headers),
		DeliveryTag: d.DeliveryTag,
		AppID:       d.AppId,
		Redelivered: d.Redelivered,
	}
}

func (l *link) pump(src <-chan amqp.Delivery) {
	for d := range src {
		select {
		case l.deliveries <- Inbound(d):
		case <-l.stop:
			return
		}
	}
}

func (l *link) watch(connClosed, chClosed <-chan *amqp.Error, cancelled <-chan string) {
	var err error
	select {
	case amqpErr, ok := <-connClosed:
		err = closeReason("connection", amqpErr, ok)
	case amqpErr, ok := <-chClosed:
		err = closeReason("channel", amqpErr, ok)
	case tag, ok := <-cancelled:
		if ok {
			err = fmt.Errorf("%w: %s", consumer.ErrConsumerCancelled, tag)
		} else {
			err = consumer.ErrLinkClosed
		}
	case <-l.stop:
		return
	}
	if l.closing.Load() {
		return
	}
	l.done <- err
}

func closeReason(what string, amqpErr *amqp.Error, ok bool) error {
	if !ok || amqpErr == nil {
		return fmt.Errorf("%w: %s closed", consumer.ErrLinkClosed, what)
	}
	return Classify(fmt.Errorf("%s closed: %w", what, amqpErr))
}

func (l *link) Deliveries() <-chan message.Inbound { return l.deliveries }

func (l *link) Done() <-chan error { return l.done }

func (l *link) Ack(tag uint64) error {
	return l.ch.Ack(tag, false)
}

func (l *link) Nack(tag uint64) error {
	return l.ch.Nack(tag, false, l.requeue)
}

func (l *link) Cancel() error {
	l.closing.Store(true)
	return l.ch.Cancel(l.tag, false)
}

// Close closes the channel and then the connection. It is idempotent.
func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closing.Store(true)
		close(l.stop)
		if chErr := l.ch.Close(); chErr != nil && !errors.Is(chErr, amqp.ErrClosed) {
			l.log.Debug("Closing channel: %v", chErr)
		}
		if connErr := l.conn.Close(); connErr != nil && !errors.Is(connErr, amqp.ErrClosed) {
			err = fmt.Errorf("close connection: %w", connErr)
		}
	})
	return err
}
