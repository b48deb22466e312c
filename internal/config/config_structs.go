// Package config loads the consumer configuration from defaults, a
// key = value file, HOOVER_* environment variables and command line flags.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config holds the complete configuration
type Config struct {
	Broker   BrokerConfig
	Delivery DeliveryConfig
	Session  SessionConfig
	MQTT     MQTTConfig
	Redis    RedisConfig
	Metrics  MetricsConfig

	LogLevel  string `env:"LOG_LEVEL"`
	Verbosity int    `env:"-"`
	// File is the config file that was read, empty when none was.
	File string `env:"-"`
	// Ignored lists config file keys that are not recognised.
	Ignored []string `env:"-"`

	present map[string]bool
}

// BrokerConfig holds AMQP connection and topology settings
type BrokerConfig struct {
	Servers         []string      `env:"SERVERS" envSeparator:","`
	Port            int           `env:"PORT"`
	VHost           string        `env:"VHOST"`
	Username        string        `env:"USERNAME"`
	Password        string        `env:"PASSWORD"`
	Exchange        string        `env:"EXCHANGE"`
	ExchangeType    string        `env:"EXCHANGE_TYPE"`
	Queue           string        `env:"QUEUE"`
	RoutingKey      string        `env:"ROUTING_KEY"`
	MaxTransmitSize int           `env:"MAX_TRANSMIT_SIZE"`
	UseSSL          bool          `env:"USE_SSL"`
	CACert          string        `env:"SSL_CA_CERT"`
	ClientCert      string        `env:"SSL_CLIENT_CERT"`
	ClientKey       string        `env:"SSL_CLIENT_KEY"`
	InsecureSkip    bool          `env:"SSL_INSECURE_SKIP"`
	Prefetch        int           `env:"PREFETCH"`
	NackRequeue     bool          `env:"NACK_REQUEUE"`
	AckMode         string        `env:"ACK_MODE"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT"`
	Heartbeat       time.Duration `env:"HEARTBEAT"`
}

// DeliveryConfig holds where and how delivered files are written
type DeliveryConfig struct {
	OutputDir     string       `env:"OUTPUT_DIR"`
	TypeOutdirMap CategoryDirs `env:"TYPE_OUTDIR_MAP"`
	HashAlgorithm string       `env:"HASH_ALGORITHM"`
}

// SessionConfig holds reconnect and shutdown timing
type SessionConfig struct {
	ReconnectInitial time.Duration `env:"RECONNECT_INITIAL"`
	ReconnectMax     time.Duration `env:"RECONNECT_MAX"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT"`
	ReceiptTimeout   time.Duration `env:"RECEIPT_TIMEOUT"`
	ReceiptBuffer    int           `env:"RECEIPT_BUFFER"`
}

// MQTTConfig holds the optional MQTT receipt publisher settings. An empty
// Broker disables it.
type MQTTConfig struct {
	Broker               string        `env:"MQTT_BROKER"`
	ClientID             string        `env:"MQTT_CLIENT_ID"`
	Topic                string        `env:"MQTT_TOPIC"`
	QoS                  byte          `env:"MQTT_QOS"`
	ConnectTimeout       time.Duration `env:"MQTT_CONNECT_TIMEOUT"`
	WriteTimeout         time.Duration `env:"MQTT_WRITE_TIMEOUT"`
	MaxReconnectInterval time.Duration `env:"MQTT_MAX_RECONNECT_INTERVAL"`
	DisconnectTimeout    uint          `env:"MQTT_DISCONNECT_TIMEOUT"` // Milliseconds for graceful disconnect
	// TLS Configuration
	TLSEnabled      bool   `env:"MQTT_TLS_ENABLED"`
	CACert          string `env:"MQTT_CA_CERT"`
	ClientCert      string `env:"MQTT_CLIENT_CERT"`
	ClientKey       string `env:"MQTT_CLIENT_KEY"`
	InsecureSkip    bool   `env:"MQTT_TLS_INSECURE_SKIP"`
	UseCertCNPrefix bool   `env:"MQTT_USE_CERT_CN_PREFIX"` // If true, prefix the topic with cert CN for ACL constraints
}

// Enabled reports whether receipts are published over MQTT.
func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// RedisConfig holds the optional Redis stream receipt recorder settings. An
// empty Address disables it.
type RedisConfig struct {
	Address      string        `env:"REDIS_ADDRESS"`
	Password     string        `env:"REDIS_PASSWORD"`
	DB           int           `env:"REDIS_DB"`
	Stream       string        `env:"REDIS_STREAM"`
	MaxLen       int64         `env:"REDIS_MAX_LEN"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"`
	PingTimeout  time.Duration `env:"REDIS_PING_TIMEOUT"`
}

// Enabled reports whether receipts are recorded in Redis.
func (c RedisConfig) Enabled() bool { return c.Address != "" }

// MetricsConfig holds the Prometheus endpoint settings. An empty Address
// disables it.
type MetricsConfig struct {
	Address string `env:"METRICS_ADDR"`
}

// CategoryDirs maps a message type to its output subdirectory. It decodes
// from a JSON object.
type CategoryDirs map[string]string

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *CategoryDirs) UnmarshalText(text []byte) error {
	dirs := map[string]string{}
	if err := json.Unmarshal(text, &dirs); err != nil {
		return fmt.Errorf("type_outdir_map must be a JSON object of strings: %w", err)
	}
	*m = dirs
	return nil
}

// Present reports whether key was supplied by the file, environment or flags.
func (c *Config) Present(key string) bool { return c.present[key] }

func (c *Config) markPresent(key string) {
	if c.present == nil {
		c.present = map[string]bool{}
	}
	c.present[key] = true
}
