package config

import "time"

// DefaultConfigFile is read when no config file is named.
const DefaultConfigFile = "amqpcreds.conf"

// defaultBrokerConfig returns the default broker configuration. The
// required keys have no meaningful default and must be supplied.
func defaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		UseSSL:         false,
		Prefetch:       1,
		NackRequeue:    false,
		AckMode:        "explicit",
		ConnectTimeout: 30 * time.Second,
		Heartbeat:      10 * time.Second,
	}
}

// defaultCategoryDirs returns the stock type to subdirectory map.
func defaultCategoryDirs() CategoryDirs {
	return CategoryDirs{
		"darshan":  "darshanlogs",
		"manifest": "manifests",
		"_default": "misc",
	}
}

// defaultDeliveryConfig returns the default delivery configuration
func defaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		OutputDir:     ".",
		TypeOutdirMap: defaultCategoryDirs(),
		HashAlgorithm: "sha1",
	}
}

// defaultSessionConfig returns the default session configuration
func defaultSessionConfig() SessionConfig {
	return SessionConfig{
		ReconnectInitial: 5 * time.Second,
		ReconnectMax:     10 * time.Minute,
		ShutdownTimeout:  30 * time.Second,
		ReceiptTimeout:   5 * time.Second,
		ReceiptBuffer:    1024,
	}
}

// defaultMQTTConfig returns the default MQTT configuration
func defaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:               "",
		ClientID:             "hoover-consumer",
		Topic:                "hoover/receipts",
		QoS:                  0,
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         30 * time.Second,
		MaxReconnectInterval: 10 * time.Second,
		DisconnectTimeout:    1000,
	}
}

// defaultRedisConfig returns the default Redis configuration
func defaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:      "",
		Stream:       "hoover-receipts",
		MaxLen:       100000,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		PingTimeout:  5 * time.Second,
	}
}

// defaultConfig returns a complete configuration with all default values
func defaultConfig() *Config {
	return &Config{
		Broker:   defaultBrokerConfig(),
		Delivery: defaultDeliveryConfig(),
		Session:  defaultSessionConfig(),
		MQTT:     defaultMQTTConfig(),
		Redis:    defaultRedisConfig(),
		LogLevel: "info",
	}
}

// DefaultBroker returns the broker defaults applied before any source is read.
func DefaultBroker() BrokerConfig {
	return defaultBrokerConfig()
}
