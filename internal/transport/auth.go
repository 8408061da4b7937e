package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Mnabil10/fasketPWA-sub000/internal/metrics"
	"github.com/Mnabil10/fasketPWA-sub000/internal/session"
)

type retriedKey struct{}

// markRetried flags ctx as belonging to a request that already went through
// a refresh cycle.
func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// authTransport attaches the bearer token and resolves a 401 with at most one
// refresh-and-resubmit cycle. Auth-exempt paths are passed through untouched.
type authTransport struct {
	next     http.RoundTripper
	tokens   TokenSource
	exempt   []string
	basePath string
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if t.isExempt(req.URL.Path) {
		return t.next.RoundTrip(req)
	}

	sent, err := t.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	r := req.Clone(ctx)
	setBearer(r, sent)

	resp, err := t.next.RoundTrip(r)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || sent == "" || isRetried(ctx) {
		return resp, err
	}

	// Keep the original 401 so it can be surfaced if the refresh fails.
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	current, err := t.tokens.AccessToken(ctx)
	reason := "token_changed"
	if err != nil || current == "" || current == sent {
		reason = "auth_refresh"
		current, err = t.tokens.RefreshStale(ctx, sent)
		if err != nil {
			t.logger.Info("refresh after 401 failed",
				zap.String("path", req.URL.Path),
				zap.Error(err))
			t.tokens.Invalidate(ctx, session.ReasonExpired)
			return resp, nil
		}
	}

	retry, err := cloneRequest(markRetried(ctx), req)
	if err != nil {
		return resp, nil
	}
	setBearer(retry, current)

	t.metrics.RecordHTTPRetry(reason)
	t.logger.Debug("resubmitting after 401",
		zap.String("path", req.URL.Path),
		zap.String("reason", reason))
	return t.next.RoundTrip(retry)
}

func (t *authTransport) isExempt(path string) bool {
	rel := strings.TrimPrefix(path, t.basePath)
	for _, p := range t.exempt {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

func setBearer(r *http.Request, token string) {
	if token == "" {
		r.Header.Del("Authorization")
		return
	}
	r.Header.Set("Authorization", "Bearer "+token)
}
