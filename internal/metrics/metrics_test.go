package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/hoover-consumer/internal/message"
	"github.com/ibs-source/hoover-consumer/internal/session"
)

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Delivery(message.Accept("/p", "x"), 10)
	r.Transition(session.Transition{To: session.Connected})
	r.Reconnect()
	r.Receipt(nil)
	assert.Nil(t, r.Registry())
}

func TestDelivery(t *testing.T) {
	r := New()

	r.Delivery(message.Accept("/out/a", "abc"), 5)
	r.Delivery(message.Accept("/out/b", "def"), 7)
	r.Delivery(message.Reject(message.ReasonChecksumMismatch, "/out/c", "1", "2", nil), 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.deliveries.WithLabelValues("ack", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.deliveries.WithLabelValues("nack", "checksum_mismatch")))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.bytesWritten))
}

func TestTransition(t *testing.T) {
	r := New()
	assert.Equal(t, 1.0, testutil.ToFloat64(r.state.WithLabelValues("disconnected")))

	r.Transition(session.Transition{From: session.Connecting, To: session.Connected, Event: session.EventConsumeStarted})

	assert.Equal(t, 0.0, testutil.ToFloat64(r.state.WithLabelValues("disconnected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.state.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("consume_started")))
}

func TestReconnectAndReceipts(t *testing.T) {
	r := New()
	r.Reconnect()
	r.Reconnect()
	r.Receipt(nil)
	r.Receipt(errors.New("broker down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.receipts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.receipts.WithLabelValues("error")))
}

func TestHandler(t *testing.T) {
	r := New()
	r.Delivery(message.Accept("/out/a", "abc"), 5)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `hoover_deliveries_total{action="ack",reason=""} 1`), body)
	assert.Contains(t, body, "hoover_session_state")
}
