package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// kind selects how a key is exposed as a command line flag.
type kind int

const (
	kindString kind = iota
	kindBool
)

// setting binds one configuration key to its field.
type setting struct {
	key   string
	usage string
	kind  kind
	set   func(cfg *Config, value string) error
}

// requiredKeys must be supplied by the file, environment or flags.
var requiredKeys = []string{
	"servers", "port", "vhost", "username", "password",
	"exchange", "exchange_type", "queue", "routing_key", "max_transmit_size",
}

var settings = []setting{
	{"servers", "Comma separated broker hosts", kindString, setList(func(c *Config) *[]string { return &c.Broker.Servers })},
	{"port", "Broker port", kindString, setInt(func(c *Config) *int { return &c.Broker.Port })},
	{"vhost", "Broker virtual host", kindString, setString(func(c *Config) *string { return &c.Broker.VHost })},
	{"username", "Broker username", kindString, setString(func(c *Config) *string { return &c.Broker.Username })},
	{"password", "Broker password", kindString, setString(func(c *Config) *string { return &c.Broker.Password })},
	{"exchange", "Exchange to bind", kindString, setString(func(c *Config) *string { return &c.Broker.Exchange })},
	{"exchange_type", "Exchange type (direct, fanout, topic, headers)", kindString, setString(func(c *Config) *string { return &c.Broker.ExchangeType })},
	{"queue", "Queue to consume", kindString, setString(func(c *Config) *string { return &c.Broker.Queue })},
	{"routing_key", "Binding routing key", kindString, setString(func(c *Config) *string { return &c.Broker.RoutingKey })},
	{"max_transmit_size", "Largest expected message body in bytes", kindString, setInt(func(c *Config) *int { return &c.Broker.MaxTransmitSize })},
	{"use_ssl", "Connect with amqps", kindBool, setBool(func(c *Config) *bool { return &c.Broker.UseSSL })},
	{"ssl_ca_cert", "Broker CA certificate path", kindString, setString(func(c *Config) *string { return &c.Broker.CACert })},
	{"ssl_client_cert", "Broker client certificate path", kindString, setString(func(c *Config) *string { return &c.Broker.ClientCert })},
	{"ssl_client_key", "Broker client key path", kindString, setString(func(c *Config) *string { return &c.Broker.ClientKey })},
	{"ssl_insecure_skip", "Skip broker TLS verification", kindBool, setBool(func(c *Config) *bool { return &c.Broker.InsecureSkip })},
	{"prefetch", "Unacknowledged deliveries the broker may send ahead", kindString, setInt(func(c *Config) *int { return &c.Broker.Prefetch })},
	{"nack_requeue", "Requeue rejected deliveries", kindBool, setBool(func(c *Config) *bool { return &c.Broker.NackRequeue })},
	{"ack_mode", "Acknowledgment mode (explicit or auto)", kindString, setString(func(c *Config) *string { return &c.Broker.AckMode })},
	{"connect_timeout", "Broker dial timeout", kindString, setDuration(func(c *Config) *time.Duration { return &c.Broker.ConnectTimeout })},
	{"heartbeat", "Broker heartbeat interval", kindString, setDuration(func(c *Config) *time.Duration { return &c.Broker.Heartbeat })},

	{"output_dir", "Output root directory", kindString, setString(func(c *Config) *string { return &c.Delivery.OutputDir })},
	{"type_outdir_map", "JSON object mapping message type to subdirectory", kindString, setCategoryDirs},
	{"hash_algorithm", "Content hash algorithm (sha1, sha256, blake3)", kindString, setString(func(c *Config) *string { return &c.Delivery.HashAlgorithm })},

	{"reconnect_initial", "First reconnect delay", kindString, setDuration(func(c *Config) *time.Duration { return &c.Session.ReconnectInitial })},
	{"reconnect_max", "Reconnect delay cap", kindString, setDuration(func(c *Config) *time.Duration { return &c.Session.ReconnectMax })},
	{"shutdown_timeout", "Graceful shutdown timeout", kindString, setDuration(func(c *Config) *time.Duration { return &c.Session.ShutdownTimeout })},
	{"receipt_timeout", "Receipt publication timeout", kindString, setDuration(func(c *Config) *time.Duration { return &c.Session.ReceiptTimeout })},
	{"receipt_buffer", "Receipts queued for the sinks before new ones are dropped", kindString, setInt(func(c *Config) *int { return &c.Session.ReceiptBuffer })},

	{"mqtt_broker", "MQTT broker URL for receipts", kindString, setString(func(c *Config) *string { return &c.MQTT.Broker })},
	{"mqtt_client_id", "MQTT client ID", kindString, setString(func(c *Config) *string { return &c.MQTT.ClientID })},
	{"mqtt_topic", "MQTT receipt topic", kindString, setString(func(c *Config) *string { return &c.MQTT.Topic })},
	{"mqtt_qos", "MQTT QoS (0, 1, or 2)", kindString, setQoS},
	{"mqtt_connect_timeout", "MQTT connect timeout", kindString, setDuration(func(c *Config) *time.Duration { return &c.MQTT.ConnectTimeout })},
	{"mqtt_write_timeout", "MQTT write timeout", kindString, setDuration(func(c *Config) *time.Duration { return &c.MQTT.WriteTimeout })},
	{"mqtt_max_reconnect_interval", "MQTT max reconnect interval", kindString, setDuration(func(c *Config) *time.Duration { return &c.MQTT.MaxReconnectInterval })},
	{"mqtt_disconnect_timeout", "MQTT disconnect timeout (ms)", kindString, setUint(func(c *Config) *uint { return &c.MQTT.DisconnectTimeout })},
	{"mqtt_tls_enabled", "Enable MQTT TLS", kindBool, setBool(func(c *Config) *bool { return &c.MQTT.TLSEnabled })},
	{"mqtt_ca_cert", "MQTT CA certificate path", kindString, setString(func(c *Config) *string { return &c.MQTT.CACert })},
	{"mqtt_client_cert", "MQTT client certificate path", kindString, setString(func(c *Config) *string { return &c.MQTT.ClientCert })},
	{"mqtt_client_key", "MQTT client key path", kindString, setString(func(c *Config) *string { return &c.MQTT.ClientKey })},
	{"mqtt_tls_insecure_skip", "Skip MQTT TLS verification", kindBool, setBool(func(c *Config) *bool { return &c.MQTT.InsecureSkip })},
	{"mqtt_use_cert_cn_prefix", "Prefix the receipt topic with client cert CN", kindBool, setBool(func(c *Config) *bool { return &c.MQTT.UseCertCNPrefix })},

	{"redis_address", "Redis address for receipts", kindString, setString(func(c *Config) *string { return &c.Redis.Address })},
	{"redis_password", "Redis password", kindString, setString(func(c *Config) *string { return &c.Redis.Password })},
	{"redis_db", "Redis database", kindString, setInt(func(c *Config) *int { return &c.Redis.DB })},
	{"redis_stream", "Redis receipt stream", kindString, setString(func(c *Config) *string { return &c.Redis.Stream })},
	{"redis_max_len", "Approximate receipt stream length cap", kindString, setInt64(func(c *Config) *int64 { return &c.Redis.MaxLen })},
	{"redis_dial_timeout", "Redis dial timeout", kindString, setDuration(func(c *Config) *time.Duration { return &c.Redis.DialTimeout })},
	{"redis_write_timeout", "Redis write timeout", kindString, setDuration(func(c *Config) *time.Duration { return &c.Redis.WriteTimeout })},
	{"redis_ping_timeout", "Redis ping timeout", kindString, setDuration(func(c *Config) *time.Duration { return &c.Redis.PingTimeout })},

	{"metrics_addr", "Listen address for /metrics (empty disables)", kindString, setString(func(c *Config) *string { return &c.Metrics.Address })},
	{"log_level", "Log level (trace, debug, info, warn, error)", kindString, setString(func(c *Config) *string { return &c.LogLevel })},
}

func lookupSetting(key string) (setting, bool) {
	for _, s := range settings {
		if s.key == key {
			return s, true
		}
	}
	return setting{}, false
}

// apply sets key from its textual value and marks it present.
func apply(cfg *Config, key, value string) error {
	s, ok := lookupSetting(key)
	if !ok {
		return fmt.Errorf("unknown configuration key %q", key)
	}
	if err := s.set(cfg, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	cfg.markPresent(key)
	return nil
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setInt64(field func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setUint(field func(*Config) *uint) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 0)
		if err != nil {
			return err
		}
		*field(c) = uint(n)
		return nil
	}
}

// setBool accepts 0/1 as well as true/false.
func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func setDuration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func setList(field func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = splitList(v)
		return nil
	}
}

func setCategoryDirs(c *Config, v string) error {
	return c.Delivery.TypeOutdirMap.UnmarshalText([]byte(v))
}

func setQoS(c *Config, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	if n < 0 || n > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2")
	}
	c.MQTT.QoS = byte(n) // #nosec G115 - validated range 0-2
	return nil
}

// splitList splits a comma separated list, trimming blanks.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
