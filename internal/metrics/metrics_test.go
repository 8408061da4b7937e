package metrics

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollector_IsNoop(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordHTTPAttempt("ok")
		c.RecordHTTPRetry("transient")
		c.RecordRefresh(nil)
		c.RecordQuoteDiscarded()
		c.RecordCheckout("succeeded")
		c.RecordCancellation("partial")
	})
}

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()

	c.RecordHTTPAttempt("server_error")
	c.RecordHTTPAttempt("server_error")
	c.RecordHTTPRetry("transient")
	c.RecordRefresh(nil)
	c.RecordRefresh(errors.New("expired"))
	c.RecordQuoteDiscarded()
	c.RecordCancellation("partial")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpAttempts.WithLabelValues("server_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRetries.WithLabelValues("transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionRefresh.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionRefresh.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.quoteDiscarded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cancellations.WithLabelValues("partial")))
}

func TestCollector_WriteText(t *testing.T) {
	c := NewCollector()
	c.RecordCheckout("succeeded")

	var buf bytes.Buffer
	require.NoError(t, c.WriteText(&buf))

	out := buf.String()
	assert.Contains(t, out, "# TYPE fasket_checkout_submissions_total counter")
	assert.Contains(t, out, `fasket_checkout_submissions_total{outcome="succeeded"} 1`)
}
