// Package amqp connects the consumer to a RabbitMQ broker over AMQP 0-9-1.
package amqp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ibs-source/hoover-consumer/internal/config"
	"github.com/ibs-source/hoover-consumer/internal/consumer"
	"github.com/ibs-source/hoover-consumer/internal/log"
	"github.com/ibs-source/hoover-consumer/internal/session"
)

// connection is the part of *amqp.Connection the dialer uses.
type connection interface {
	Channel() (channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// channel is the part of *amqp.Channel the dialer and link use.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	NotifyCancel(receiver chan string) chan string
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Cancel(consumer string, noWait bool) error
	Close() error
}

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

type dialFunc func(uri string, cfg amqp.Config) (connection, error)

func dialAMQP(uri string, cfg amqp.Config) (connection, error) {
	conn, err := amqp.DialConfig(uri, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// Dialer implements consumer.Dialer for a set of equivalent brokers.
type Dialer struct {
	cfg   config.BrokerConfig
	tls   *tls.Config
	dial  dialFunc
	rng   *rand.Rand
	rngMu sync.Mutex
	log   *log.Logger
}

// NewDialer creates a dialer from the broker configuration
func NewDialer(cfg *config.BrokerConfig, logger *log.Logger) (*Dialer, error) {
	d := &Dialer{
		cfg:  *cfg,
		dial: dialAMQP,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 - server order only
		log:  logger,
	}
	if cfg.UseSSL {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		d.tls = tlsConfig
	}
	return d, nil
}

// newTLSConfig creates a TLS configuration from broker config
func newTLSConfig(cfg *config.BrokerConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		// Note: Enabling InsecureSkipVerify weakens TLS security and should only be used for testing.
		InsecureSkipVerify: cfg.InsecureSkip, // #nosec G402 - configurable for testing environments
		MinVersion:         tls.VersionTLS12,
	}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA cert")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert/key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// URI returns the connection URI for one server.
func URI(cfg *config.BrokerConfig, server string) string {
	return buildURI(cfg, server, cfg.Password)
}

// RedactedURI returns URI with the password masked, for logging.
func RedactedURI(cfg *config.BrokerConfig, server string) string {
	return buildURI(cfg, server, "xxxxx")
}

func buildURI(cfg *config.BrokerConfig, server, password string) string {
	scheme := "amqp"
	if cfg.UseSSL {
		scheme = "amqps"
	}
	user := url.UserPassword(cfg.Username, password).String()
	host := net.JoinHostPort(server, strconv.Itoa(cfg.Port))
	return fmt.Sprintf("%s://%s@%s/%s", scheme, user, host, url.PathEscape(cfg.VHost))
}

// Dial tries every server once, in random order, and returns the first
// link that finishes setup. Unrecoverable errors stop the round early.
func (d *Dialer) Dial(ctx context.Context, sub consumer.Subscription) (consumer.Link, error) {
	d.rngMu.Lock()
	servers := session.ServerOrder(d.cfg.Servers, d.rng)
	d.rngMu.Unlock()

	var errs []error
	for _, server := range servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.log.Info("Connecting to %s", RedactedURI(&d.cfg, server))
		l, err := d.dialServer(ctx, server, sub)
		if err == nil {
			return l, nil
		}
		err = Classify(err)
		if errors.Is(err, consumer.ErrUnrecoverable) {
			return nil, fmt.Errorf("%s: %w", server, err)
		}
		d.log.Warn("Connection to %s failed: %v", server, err)
		errs = append(errs, fmt.Errorf("%s: %w", server, err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no broker servers configured")
	}
	return nil, fmt.Errorf("all %d servers failed: %w", len(errs), errors.Join(errs...))
}

func (d *Dialer) amqpConfig(ctx context.Context, sub consumer.Subscription) amqp.Config {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName("hoover-consumer-" + sub.ConsumerTag)
	timeout := d.cfg.ConnectTimeout
	return amqp.Config{
		Heartbeat:       d.cfg.Heartbeat,
		TLSClientConfig: d.tls,
		Properties:      props,
		Dial: func(network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: timeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// cleared by the library once the handshake completes
			if timeout > 0 {
				if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
					_ = conn.Close()
					return nil, err
				}
			}
			return conn, nil
		},
	}
}

func observe(sub consumer.Subscription, event session.Event) {
	if sub.Observe != nil {
		sub.Observe(event)
	}
}

// dialServer connects to one server and declares the topology.
func (d *Dialer) dialServer(ctx context.Context, server string, sub consumer.Subscription) (*link, error) {
	conn, err := d.dial(URI(&d.cfg, server), d.amqpConfig(ctx, sub))
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	observe(sub, session.EventConnectionOpened)

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	observe(sub, session.EventChannelOpened)

	deliveries, err := d.setup(ch, sub)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	d.log.Info("Consuming queue %s bound to %s (%s, routing key %q)",
		d.cfg.Queue, d.cfg.Exchange, d.cfg.ExchangeType, d.cfg.RoutingKey)
	return newLink(conn, ch, deliveries, sub.ConsumerTag, d.cfg.NackRequeue, d.log), nil
}

func (d *Dialer) setup(ch channel, sub consumer.Subscription) (<-chan amqp.Delivery, error) {
	if err := ch.ExchangeDeclare(d.cfg.Exchange, d.cfg.ExchangeType, false, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", d.cfg.Exchange, err)
	}
	observe(sub, session.EventExchangeDeclared)

	q, err := ch.QueueDeclare(d.cfg.Queue, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", d.cfg.Queue, err)
	}
	observe(sub, session.EventQueueDeclared)

	if err := ch.QueueBind(q.Name, d.cfg.RoutingKey, d.cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	observe(sub, session.EventQueueBound)

	if d.cfg.Prefetch > 0 && !sub.AutoAck {
		if err := ch.Qos(d.cfg.Prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("set prefetch: %w", err)
		}
	}

	deliveries, err := ch.Consume(q.Name, sub.ConsumerTag, sub.AutoAck, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}
	return deliveries, nil
}

// Classify marks protocol errors that a reconnect cannot fix as
// consumer.ErrUnrecoverable.
func Classify(err error) error {
	var amqpErr *amqp.Error
	if !errors.As(err, &amqpErr) {
		return err
	}
	switch amqpErr.Code {
	case amqp.AccessRefused, amqp.PreconditionFailed, amqp.NotAllowed:
		return fmt.Errorf("%w: %w", consumer.ErrUnrecoverable, err)
	}
	return err
}
