// Package metrics exposes delivery and session counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ibs-source/hoover-consumer/internal/log"
	"github.com/ibs-source/hoover-consumer/internal/message"
	"github.com/ibs-source/hoover-consumer/internal/session"
)

const namespace = "hoover"

var allStates = []session.State{session.Disconnected, session.Connecting, session.Connected, session.Closing}

// Recorder owns a private registry. A nil *Recorder is a valid no-op.
type Recorder struct {
	registry     *prometheus.Registry
	deliveries   *prometheus.CounterVec
	bytesWritten prometheus.Counter
	state        *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	reconnects   prometheus.Counter
	receipts     *prometheus.CounterVec
}

// New creates a recorder with process and Go collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Handled deliveries by action and rejection reason.",
		}, []string{"action", "reason"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accepted_bytes_total",
			Help:      "Bytes of content written for accepted deliveries.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current broker session state (1 for the active state).",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session state machine events applied.",
		}, []string{"event"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a failure or connection loss.",
		}),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_total",
			Help:      "Receipt publications by result.",
		}, []string{"result"}),
	}

	r.registry.MustRegister(
		r.deliveries, r.bytesWritten, r.state, r.transitions, r.reconnects, r.receipts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.SessionState(session.Disconnected)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Delivery records one handled delivery.
func (r *Recorder) Delivery(outcome message.Outcome, size int) {
	if r == nil {
		return
	}
	reason := ""
	if !outcome.Accepted() {
		reason = outcome.Reason().String()
	} else {
		r.bytesWritten.Add(float64(size))
	}
	r.deliveries.WithLabelValues(outcome.Action().String(), reason).Inc()
}

// Transition records a session state change.
func (r *Recorder) Transition(tr session.Transition) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(tr.Event.String()).Inc()
	r.SessionState(tr.To)
}

// SessionState marks s as the active state.
func (r *Recorder) SessionState(s session.State) {
	if r == nil {
		return
	}
	for _, candidate := range allStates {
		value := 0.0
		if candidate == s {
			value = 1
		}
		r.state.WithLabelValues(candidate.String()).Set(value)
	}
}

// Reconnect records a scheduled reconnect.
func (r *Recorder) Reconnect() {
	if r == nil {
		return
	}
	r.reconnects.Inc()
}

// Receipt records a receipt publication result.
func (r *Recorder) Receipt(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.receipts.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}
