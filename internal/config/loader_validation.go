package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ibs-source/hoover-consumer/internal/checksum"
	"github.com/ibs-source/hoover-consumer/internal/destination"
)

// ErrMissingKeys is returned when required keys were not supplied.
var ErrMissingKeys = errors.New("incomplete configuration")

// Validate checks configuration constraints
func Validate(cfg *Config) error {
	if err := validateRequired(cfg); err != nil {
		return err
	}
	if err := validateBroker(&cfg.Broker); err != nil {
		return err
	}
	if err := validateDelivery(&cfg.Delivery); err != nil {
		return err
	}
	if err := validateSession(&cfg.Session); err != nil {
		return err
	}
	if err := validateMQTT(&cfg.MQTT); err != nil {
		return err
	}
	return validateRedis(&cfg.Redis)
}

// validateRequired reports every required key that was never supplied.
func validateRequired(cfg *Config) error {
	var missing []string
	for _, key := range requiredKeys {
		if !cfg.Present(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMissingKeys, strings.Join(missing, ", "))
	}
	return nil
}

// validateBroker validates broker configuration
func validateBroker(cfg *BrokerConfig) error {
	if len(cfg.Servers) == 0 {
		return fmt.Errorf("servers cannot be empty")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cfg.Exchange == "" {
		return fmt.Errorf("exchange cannot be empty")
	}
	switch cfg.ExchangeType {
	case "direct", "fanout", "topic", "headers":
	default:
		return fmt.Errorf("unsupported exchange_type %q", cfg.ExchangeType)
	}
	if cfg.MaxTransmitSize < 0 {
		return fmt.Errorf("max_transmit_size cannot be negative")
	}
	if cfg.Prefetch < 0 {
		return fmt.Errorf("prefetch cannot be negative")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.AckMode)) {
	case "", "explicit", "auto":
	default:
		return fmt.Errorf("ack_mode must be explicit or auto, got %q", cfg.AckMode)
	}
	if (cfg.ClientCert == "") != (cfg.ClientKey == "") {
		return fmt.Errorf("ssl_client_cert and ssl_client_key must be set together")
	}
	return nil
}

// validateDelivery validates output and hashing configuration
func validateDelivery(cfg *DeliveryConfig) error {
	if _, err := destination.NewCategoryMap(cfg.TypeOutdirMap); err != nil {
		return fmt.Errorf("type_outdir_map: %w", err)
	}
	if _, err := checksum.New(cfg.HashAlgorithm); err != nil {
		return fmt.Errorf("hash_algorithm: %w", err)
	}
	return nil
}

// validateSession validates reconnect timing
func validateSession(cfg *SessionConfig) error {
	if cfg.ReconnectInitial <= 0 {
		return fmt.Errorf("reconnect_initial must be positive")
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		return fmt.Errorf("reconnect_max must not be below reconnect_initial")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if cfg.ReceiptBuffer < 1 {
		return fmt.Errorf("receipt_buffer must be positive")
	}
	return nil
}

// validateMQTT validates MQTT configuration when the publisher is enabled
func validateMQTT(cfg *MQTTConfig) error {
	if !cfg.Enabled() {
		return nil
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("mqtt client ID cannot be empty")
	}
	if cfg.Topic == "" {
		return fmt.Errorf("mqtt topic cannot be empty")
	}
	if cfg.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	return nil
}

// validateRedis validates Redis configuration when the recorder is enabled
func validateRedis(cfg *RedisConfig) error {
	if !cfg.Enabled() {
		return nil
	}
	if cfg.Stream == "" {
		return fmt.Errorf("redis stream cannot be empty")
	}
	if cfg.MaxLen < 0 {
		return fmt.Errorf("redis max len cannot be negative")
	}
	return nil
}
