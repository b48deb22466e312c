package redis

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ibs-source/hoover-consumer/internal/config"
	"github.com/ibs-source/hoover-consumer/internal/log"
	"github.com/ibs-source/hoover-consumer/internal/message"
)

type fakeStream struct {
	args   []*redis.XAddArgs
	err    error
	closed bool
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	return redis.NewStringResult("1700000000000-0", f.err)
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

func rejectedReceipt() message.Receipt {
	msg := message.Inbound{
		Content:     []byte("hello"),
		Headers:     message.Headers{message.HeaderChecksum: "ffff", message.HeaderType: "darshan"},
		DeliveryTag: 12,
	}
	outcome := message.Reject(message.ReasonChecksumMismatch, "/out/darshanlogs/manifest_ffff.json",
		"aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", "ffff", nil)
	return message.NewReceipt("session-1", msg, outcome, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestRecord_AppendsFields(t *testing.T) {
	stream := &fakeStream{}
	r := newRecorder(stream, &config.RedisConfig{Stream: "hoover-receipts", MaxLen: 1000}, log.NewWithOutput(io.Discard))

	if err := r.Record(context.Background(), rejectedReceipt()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(stream.args) != 1 {
		t.Fatalf("XAdd calls = %d; want 1", len(stream.args))
	}

	args := stream.args[0]
	if args.Stream != "hoover-receipts" {
		t.Errorf("Stream = %s; want hoover-receipts", args.Stream)
	}
	if args.MaxLen != 1000 || !args.Approx {
		t.Errorf("MaxLen = %d Approx = %v; want ~1000", args.MaxLen, args.Approx)
	}

	values, ok := args.Values.(map[string]interface{})
	if !ok {
		t.Fatalf("Values type = %T; want map", args.Values)
	}
	if values["reason"] != "checksum_mismatch" {
		t.Errorf("reason = %v; want checksum_mismatch", values["reason"])
	}
	if values["type"] != "darshan" {
		t.Errorf("type = %v; want darshan", values["type"])
	}
}

func TestRecord_NoCap(t *testing.T) {
	stream := &fakeStream{}
	r := newRecorder(stream, &config.RedisConfig{Stream: "s"}, log.NewWithOutput(io.Discard))

	if err := r.Record(context.Background(), rejectedReceipt()); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if stream.args[0].MaxLen != 0 || stream.args[0].Approx {
		t.Errorf("trimming enabled without a cap: %+v", stream.args[0])
	}
}

func TestRecord_Error(t *testing.T) {
	stream := &fakeStream{err: errors.New("READONLY You can't write against a read only replica")}
	r := newRecorder(stream, &config.RedisConfig{Stream: "s"}, log.NewWithOutput(io.Discard))

	err := r.Record(context.Background(), rejectedReceipt())
	if err == nil || !strings.Contains(err.Error(), "READONLY") {
		t.Errorf("Record() error = %v; want wrapped READONLY", err)
	}
}

func TestClose(t *testing.T) {
	stream := &fakeStream{}
	r := newRecorder(stream, &config.RedisConfig{Stream: "s"}, log.NewWithOutput(io.Discard))
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !stream.closed {
		t.Error("Close() did not close the client")
	}
}
