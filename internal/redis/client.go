// Package redis records delivery receipts in a Redis stream.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ibs-source/hoover-consumer/internal/config"
	"github.com/ibs-source/hoover-consumer/internal/log"
	"github.com/ibs-source/hoover-consumer/internal/message"
)

// streamWriter is the part of *redis.Client the recorder uses.
type streamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Recorder appends one stream entry per receipt
type Recorder struct {
	rdb    streamWriter
	stream string
	maxLen int64
	log    *log.Logger
}

// NewRecorder connects to Redis and verifies the connection
func NewRecorder(cfg *config.RedisConfig, logger *log.Logger) (*Recorder, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Recording receipts in Redis stream '%s' (max ~%d entries)", cfg.Stream, cfg.MaxLen)
	return newRecorder(rdb, cfg, logger), nil
}

func newRecorder(rdb streamWriter, cfg *config.RedisConfig, logger *log.Logger) *Recorder {
	return &Recorder{
		rdb:    rdb,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		log:    logger,
	}
}

// Record appends the receipt fields to the stream, trimming it to roughly
// maxLen entries when a cap is configured.
func (r *Recorder) Record(ctx context.Context, receipt message.Receipt) error {
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: receipt.Fields(),
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	id, err := r.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to add receipt to stream %s: %w", r.stream, err)
	}
	r.log.Trace("Receipt for delivery %d stored as %s", receipt.DeliveryTag, id)
	return nil
}

// Close closes the Redis connection
func (r *Recorder) Close() error {
	return r.rdb.Close()
}
