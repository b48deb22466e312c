// Package main starts the hoover consumer binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ibs-source/hoover-consumer/internal/amqp"
	"github.com/ibs-source/hoover-consumer/internal/checksum"
	"github.com/ibs-source/hoover-consumer/internal/config"
	"github.com/ibs-source/hoover-consumer/internal/consumer"
	"github.com/ibs-source/hoover-consumer/internal/delivery"
	"github.com/ibs-source/hoover-consumer/internal/destination"
	"github.com/ibs-source/hoover-consumer/internal/log"
	"github.com/ibs-source/hoover-consumer/internal/metrics"
	"github.com/ibs-source/hoover-consumer/internal/mqtt"
	"github.com/ibs-source/hoover-consumer/internal/receipts"
	"github.com/ibs-source/hoover-consumer/internal/redis"
)

func run(args []string) int {
	logger := log.New()

	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return 1
	}
	logger.SetLevel(cfg.LogLevel)
	logger.SetVerbosity(cfg.Verbosity)
	logger.Info("Starting hoover consumer")
	logConfig(cfg, logger)

	recorder := metrics.New()
	c, err := initializeServices(cfg, logger, recorder)
	if err != nil {
		logger.Error("%v", err)
		return 1
	}

	return runMainLoop(c, recorder, cfg, logger)
}

func logConfig(cfg *config.Config, logger *log.Logger) {
	if cfg.File != "" {
		logger.Info("Configuration loaded from %s", cfg.File)
	}
	if len(cfg.Ignored) > 0 {
		logger.Warn("Ignoring unknown config keys: %s", strings.Join(cfg.Ignored, ", "))
	}
	logger.Info("Broker: %s port %d vhost %s (ssl: %v)", strings.Join(cfg.Broker.Servers, ","), cfg.Broker.Port, cfg.Broker.VHost, cfg.Broker.UseSSL)
	logger.Info("Exchange: %s (%s), Queue: %s, Routing key: %q", cfg.Broker.Exchange, cfg.Broker.ExchangeType, cfg.Broker.Queue, cfg.Broker.RoutingKey)
	logger.Info("Output: %s, Hash: %s, Ack mode: %s", cfg.Delivery.OutputDir, cfg.Delivery.HashAlgorithm, cfg.Broker.AckMode)
}

func initializeServices(cfg *config.Config, logger *log.Logger, recorder *metrics.Recorder) (*consumer.Consumer, error) {
	categories, err := destination.NewCategoryMap(cfg.Delivery.TypeOutdirMap)
	if err != nil {
		return nil, fmt.Errorf("invalid type_outdir_map: %w", err)
	}
	verifier, err := checksum.New(cfg.Delivery.HashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("invalid hash_algorithm: %w", err)
	}
	ackMode, err := consumer.ParseAckMode(cfg.Broker.AckMode)
	if err != nil {
		return nil, err
	}

	resolver := destination.NewResolver(cfg.Delivery.OutputDir, categories)
	handler := delivery.NewHandler(afero.NewOsFs(), resolver, verifier, logger)

	dialer, err := amqp.NewDialer(&cfg.Broker, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker dialer: %w", err)
	}

	sinks, err := initializeSinks(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := consumer.Options{
		AckMode:          ackMode,
		ReconnectInitial: cfg.Session.ReconnectInitial,
		ReconnectMax:     cfg.Session.ReconnectMax,
		MaxTransmitSize:  cfg.Broker.MaxTransmitSize,
		ReceiptTimeout:   cfg.Session.ReceiptTimeout,
	}
	if len(sinks) == 0 {
		return consumer.New(dialer, handler, opts, logger, recorder), nil
	}
	dispatcher := receipts.New(sinks, receipts.Options{
		Buffer:  cfg.Session.ReceiptBuffer,
		Timeout: cfg.Session.ReceiptTimeout,
	}, logger, recorder)
	return consumer.New(dialer, handler, opts, logger, recorder, dispatcher), nil
}

func initializeSinks(cfg *config.Config, logger *log.Logger) ([]receipts.Sink, error) {
	var sinks []receipts.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	if cfg.MQTT.Enabled() {
		publisher, err := mqtt.NewPublisher(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create MQTT receipt publisher: %w", err)
		}
		sinks = append(sinks, publisher)
		logger.Info("Publishing receipts to MQTT %s topic %s", cfg.MQTT.Broker, cfg.MQTT.Topic)
	}

	if cfg.Redis.Enabled() {
		recorder, err := redis.NewRecorder(&cfg.Redis, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to create Redis receipt recorder: %w", err)
		}
		sinks = append(sinks, recorder)
	}
	return sinks, nil
}

func runMainLoop(c *consumer.Consumer, recorder *metrics.Recorder, cfg *config.Config, logger *log.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })
	if cfg.Metrics.Address != "" {
		g.Go(func() error { return recorder.Serve(gctx, cfg.Metrics.Address, logger) })
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Consumer stopped: %v", err)
			return 1
		}
		logger.Info("Consumer stopped")
		return 0

	case <-ctx.Done():
		logger.Info("Received shutdown signal, finishing in-flight delivery")
		return handleGracefulShutdown(done, cfg, logger)
	}
}

func handleGracefulShutdown(done <-chan error, cfg *config.Config, logger *log.Logger) int {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Session.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Error during shutdown: %v", err)
			return 1
		}
		logger.Info("Graceful shutdown completed")
		return 0
	case <-shutdownCtx.Done():
		logger.Error("Shutdown timeout exceeded")
		return 1
	}
}

func main() {
	// Keep main minimal to ensure defers in run() execute correctly.
	os.Exit(run(os.Args[1:]))
}
