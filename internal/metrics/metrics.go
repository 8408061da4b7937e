// Package metrics collects storefront client telemetry in a private
// Prometheus registry.
//
// Every Record method is safe to call on a nil *Collector, so components can
// run without metrics wired in.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "fasket"

// Collector holds the client counters.
type Collector struct {
	registry *prometheus.Registry

	httpAttempts       *prometheus.CounterVec
	httpRetries        *prometheus.CounterVec
	sessionRefresh     *prometheus.CounterVec
	quoteDiscarded     prometheus.Counter
	checkoutSubmission *prometheus.CounterVec
	cancellations      *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.httpAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "attempts_total",
			Help:      "HTTP attempts by outcome (ok, client_error, server_error, network, timeout).",
		},
		[]string{"outcome"},
	)

	c.httpRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Resubmitted HTTP requests by reason (transient, auth_refresh, token_changed).",
		},
		[]string{"reason"},
	)

	c.sessionRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refresh_total",
			Help:      "Token refresh cycles by result.",
		},
		[]string{"result"},
	)

	c.quoteDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "discarded_total",
			Help:      "Quote responses dropped because a newer request superseded them.",
		},
	)

	c.checkoutSubmission = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "submissions_total",
			Help:      "Checkout submissions by outcome (succeeded, failed, invalid, in_flight).",
		},
		[]string{"outcome"},
	)

	c.cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "order",
			Name:      "cancellations_total",
			Help:      "Order group cancellations by outcome kind (full, partial, none).",
		},
		[]string{"kind"},
	)

	c.registry.MustRegister(
		c.httpAttempts,
		c.httpRetries,
		c.sessionRefresh,
		c.quoteDiscarded,
		c.checkoutSubmission,
		c.cancellations,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordHTTPAttempt counts one round trip to the backend.
func (c *Collector) RecordHTTPAttempt(outcome string) {
	if c == nil {
		return
	}
	c.httpAttempts.WithLabelValues(outcome).Inc()
}

// RecordHTTPRetry counts one resubmission.
func (c *Collector) RecordHTTPRetry(reason string) {
	if c == nil {
		return
	}
	c.httpRetries.WithLabelValues(reason).Inc()
}

// RecordRefresh counts one network refresh cycle.
func (c *Collector) RecordRefresh(err error) {
	if c == nil {
		return
	}
	c.sessionRefresh.WithLabelValues(result(err)).Inc()
}

// RecordQuoteDiscarded counts one stale quote response.
func (c *Collector) RecordQuoteDiscarded() {
	if c == nil {
		return
	}
	c.quoteDiscarded.Inc()
}

// RecordCheckout counts one checkout submission.
func (c *Collector) RecordCheckout(outcome string) {
	if c == nil {
		return
	}
	c.checkoutSubmission.WithLabelValues(outcome).Inc()
}

// RecordCancellation counts one group cancellation by outcome kind.
func (c *Collector) RecordCancellation(kind string) {
	if c == nil {
		return
	}
	c.cancellations.WithLabelValues(kind).Inc()
}

// WriteText writes every gathered family in the Prometheus text format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	return writeFamilies(w, families)
}

func writeFamilies(w io.Writer, families []*dto.MetricFamily) error {
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
