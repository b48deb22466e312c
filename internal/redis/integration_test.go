package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ibs-source/hoover-consumer/internal/config"
	"github.com/ibs-source/hoover-consumer/internal/log"
)

func setupRedisConfig(t *testing.T) *config.RedisConfig {
	t.Helper()
	addr := os.Getenv("HOOVER_TEST_REDIS_ADDRESS")
	if addr == "" {
		addr = "localhost:6379"
	}
	return &config.RedisConfig{
		Address:      addr,
		Stream:       "hoover-test-receipts",
		MaxLen:       100,
		DialTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PingTimeout:  2 * time.Second,
	}
}

func TestIntegration_RecordReceipt(t *testing.T) {
	cfg := setupRedisConfig(t)
	r, err := NewRecorder(cfg, log.New())
	if err != nil {
		t.Skipf("Skipping Redis test: %v (Redis not available?)", err)
		return
	}
	defer func() { _ = r.Close() }()

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Address})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Del(ctx, cfg.Stream).Err(); err != nil {
		t.Fatalf("Failed to reset stream: %v", err)
	}

	if err := r.Record(ctx, rejectedReceipt()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := rdb.XRange(ctx, cfg.Stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d; want 1", len(entries))
	}
	if entries[0].Values["delivery_tag"] != "12" {
		t.Errorf("delivery_tag = %v; want 12", entries[0].Values["delivery_tag"])
	}
	if entries[0].Values["reason"] != "checksum_mismatch" {
		t.Errorf("reason = %v; want checksum_mismatch", entries[0].Values["reason"])
	}
}
