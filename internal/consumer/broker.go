package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ibs-source/hoover-consumer/internal/message"
	"github.com/ibs-source/hoover-consumer/internal/session"
)

var (
	// ErrUnrecoverable marks broker errors that must terminate the process
	// instead of triggering a reconnect.
	ErrUnrecoverable = errors.New("unrecoverable broker error")
	// ErrConsumerCancelled is reported by a Link when the broker cancels the
	// consumer.
	ErrConsumerCancelled = errors.New("consumer cancelled by broker")
	// ErrLinkClosed is reported when the delivery stream ends unexpectedly.
	ErrLinkClosed = errors.New("broker link closed")
)

// AckMode selects how deliveries are acknowledged.
type AckMode int

// Acknowledgment modes.
const (
	// AckExplicit sends exactly one ack or nack per delivery.
	AckExplicit AckMode = iota
	// AckAuto lets the broker consider deliveries acknowledged on send.
	AckAuto
)

func (m AckMode) String() string {
	if m == AckAuto {
		return "auto"
	}
	return "explicit"
}

// ParseAckMode parses "explicit" or "auto".
func ParseAckMode(s string) (AckMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "explicit":
		return AckExplicit, nil
	case "auto":
		return AckAuto, nil
	default:
		return AckExplicit, fmt.Errorf("unknown ack mode %q (expected explicit or auto)", s)
	}
}

// Subscription describes the consumer a Dialer must start.
type Subscription struct {
	ConsumerTag string
	AutoAck     bool
	// Observe receives setup progress events while the link is being built.
	Observe func(session.Event)
}

// Dialer establishes a consuming broker link, trying every known server.
type Dialer interface {
	Dial(ctx context.Context, sub Subscription) (Link, error)
}

// Link is one connected, consuming broker channel.
type Link interface {
	// Deliveries yields inbound messages in delivery order.
	Deliveries() <-chan message.Inbound
	// Done receives the reason the link went down unexpectedly.
	Done() <-chan error
	Ack(tag uint64) error
	Nack(tag uint64) error
	// Cancel stops the consumer so no further deliveries arrive.
	Cancel() error
	// Close closes the channel and then the connection.
	Close() error
}

// Handler turns a delivery into an outcome.
type Handler interface {
	Handle(msg message.Inbound) message.Outcome
}

// ReceiptSink receives a receipt after every acknowledgment decision.
type ReceiptSink interface {
	Record(ctx context.Context, receipt message.Receipt) error
	Close() error
}
