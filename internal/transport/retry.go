package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
	"github.com/Mnabil10/fasketPWA-sub000/internal/metrics"
)

// retryableStatus lists the statuses that are retried as transient.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooEarly:            true, // 425
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// retryTransport runs each attempt under its own timeout and retries
// transient failures with linear backoff (attempt × backoff). The budget is
// local to one RoundTrip call.
type retryTransport struct {
	next       http.RoundTripper
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Collector
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	budget := t.maxRetries
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		budget = 0
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.attempt(req, attempt > 0)
		outcome := classify(resp, err)
		t.metrics.RecordHTTPAttempt(outcome)

		if ctx.Err() != nil {
			drain(resp)
			return nil, ctx.Err()
		}
		if !isTransient(resp, err) || attempt >= budget {
			return resp, err
		}

		drain(resp)
		t.metrics.RecordHTTPRetry("transient")
		wait := time.Duration(attempt+1) * t.backoff
		t.logger.Debug("retrying transient failure",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("attempt", attempt+1),
			zap.String("outcome", outcome),
			zap.Duration("backoff", wait))

		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attempt sends one request under the per-attempt timeout. The body is read
// before the timeout context is released.
func (t *retryTransport) attempt(req *http.Request, replay bool) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	defer cancel()

	r := req.WithContext(ctx)
	if replay {
		var err error
		if r, err = cloneRequest(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := t.next.RoundTrip(r)
	if err != nil {
		return nil, t.attemptError(req.Context(), ctx, err)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, t.attemptError(req.Context(), ctx, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func (t *retryTransport) attemptError(parent, attemptCtx context.Context, err error) error {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &apierr.Error{Kind: apierr.KindTimeout, Message: "request timed out", Err: err}
	}
	return apierr.Normalize(err)
}

func isTransient(resp *http.Response, err error) bool {
	if err != nil {
		var e *apierr.Error
		return errors.As(err, &e) && e.IsNetwork()
	}
	return retryableStatus[resp.StatusCode]
}

func classify(resp *http.Response, err error) string {
	switch {
	case err != nil:
		if apierr.IsKind(err, apierr.KindTimeout) {
			return "timeout"
		}
		return "network"
	case resp.StatusCode >= 500:
		return "server_error"
	case resp.StatusCode >= 400:
		return "client_error"
	default:
		return "ok"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
