// Package main starts hoover-listen, a minimal auto-ack consumer for a
// single local broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/ibs-source/hoover-consumer/internal/amqp"
	"github.com/ibs-source/hoover-consumer/internal/checksum"
	"github.com/ibs-source/hoover-consumer/internal/config"
	"github.com/ibs-source/hoover-consumer/internal/consumer"
	"github.com/ibs-source/hoover-consumer/internal/delivery"
	"github.com/ibs-source/hoover-consumer/internal/destination"
	"github.com/ibs-source/hoover-consumer/internal/log"
)

const (
	defaultExchange = "darshanlogs"
	defaultQueue    = "logs"
	defaultPort     = 5672
)

var errUsage = errors.New("usage requested")

type options struct {
	exchange  string
	output    string
	host      string
	port      int
	verbosity int
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	var opts options
	var help bool
	fs := pflag.NewFlagSet("hoover-listen", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.exchange, "exchange", "e", defaultExchange, "name of exchange to consume")
	fs.StringVarP(&opts.output, "output", "o", cwd, "output directory")
	fs.StringVarP(&opts.host, "host", "h", "localhost", "RabbitMQ host")
	fs.IntVarP(&opts.port, "port", "p", defaultPort, "RabbitMQ port")
	fs.BoolVarP(&help, "help", "?", false, "show this help message")
	fs.CountVarP(&opts.verbosity, "verbose", "v", "verbosity level; repeat up to three times")
	fs.SortFlags = false

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if help {
		fmt.Fprintf(stderr, "Usage of hoover-listen:\n%s", fs.FlagUsages())
		return opts, errUsage
	}
	return opts, nil
}

// brokerConfig describes the fixed topology the listener consumes from.
func brokerConfig(opts options) config.BrokerConfig {
	cfg := config.DefaultBroker()
	cfg.Servers = []string{opts.host}
	cfg.Port = opts.port
	cfg.VHost = "/"
	cfg.Username = "guest"
	cfg.Password = "guest"
	cfg.Exchange = opts.exchange
	cfg.ExchangeType = "direct"
	cfg.Queue = defaultQueue
	cfg.RoutingKey = defaultQueue
	cfg.AckMode = consumer.AckAuto.String()
	return cfg
}

// ensureOutputDir creates the output root if it does not exist yet.
func ensureOutputDir(fs afero.Fs, dir string, logger *log.Logger) error {
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	logger.Info("Output directory %s doesn't exist; creating it", dir)
	return fs.MkdirAll(dir, 0o755)
}

func run(args []string) int {
	opts, err := parseArgs(args, os.Stderr)
	if err != nil {
		// an explicit help request also exits non-zero
		return 1
	}

	logger := log.New()
	logger.SetVerbosity(opts.verbosity)

	osFs := afero.NewOsFs()
	if err := ensureOutputDir(osFs, opts.output, logger); err != nil {
		logger.Error("Failed to create output directory %s: %v", opts.output, err)
		return 1
	}

	categories, err := destination.NewCategoryMap(destination.DefaultCategories())
	if err != nil {
		logger.Error("%v", err)
		return 1
	}
	verifier, err := checksum.New(string(checksum.Default))
	if err != nil {
		logger.Error("%v", err)
		return 1
	}
	handler := delivery.NewHandler(osFs, destination.NewResolver(opts.output, categories), verifier, logger)

	cfg := brokerConfig(opts)
	dialer, err := amqp.NewDialer(&cfg, logger)
	if err != nil {
		logger.Error("%v", err)
		return 1
	}

	c := consumer.New(dialer, handler, consumer.Options{AckMode: consumer.AckAuto}, logger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Subscribed to exchange [%s] on %s:%d", opts.exchange, opts.host, opts.port)
	if err := c.Run(ctx); err != nil {
		logger.Error("Consumer stopped: %v", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
