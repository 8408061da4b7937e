// Package transport is the HTTP request pipeline shared by every backend call.
//
// A request passes through three http.RoundTripper decorators:
//
//	headerTransport  locale, lang query on GET, JSON content negotiation
//	authTransport    bearer token; one refresh-and-resubmit cycle on 401
//	retryTransport   per-attempt timeout; transient retries with linear backoff
//
// The auth layer wraps the retry layer, so a resubmitted request gets its own
// transient budget. Client.Raw and Client.JSON read the response, turn non-2xx
// statuses into *apierr.Error and unwrap the {"success":true,"data":...}
// envelope.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
	"github.com/Mnabil10/fasketPWA-sub000/internal/logging"
	"github.com/Mnabil10/fasketPWA-sub000/internal/metrics"
	"github.com/Mnabil10/fasketPWA-sub000/internal/session"
)

// TokenSource supplies bearer tokens and renews them. *session.Manager
// implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshStale(ctx context.Context, stale string) (string, error)
	Invalidate(ctx context.Context, reason session.Reason)
}

// Options configures a Client. Zero durations take the defaults below.
type Options struct {
	BaseURL            string
	Locale             string
	Timeout            time.Duration // per attempt, default 15s
	MaxRetries         int           // transient retries after the first attempt
	RetryBackoff       time.Duration // linear step, default 300ms
	AuthExemptPrefixes []string
	Tokens             TokenSource
	Base               http.RoundTripper // default http.DefaultTransport
	Logger             *zap.Logger
	Metrics            *metrics.Collector
}

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxRetries   = 2
	DefaultRetryBackoff = 300 * time.Millisecond
)

// DefaultAuthExemptPrefixes are the paths that never carry a bearer token
// and never trigger a refresh.
var DefaultAuthExemptPrefixes = []string{
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
	"/auth/otp",
	"/auth/password",
}

// Request describes one logical backend call. Path is relative to the base URL.
type Request struct {
	Method string
	// Path is relative to the base URL and already escaped; dynamic segments
	// go through url.PathEscape.
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Client issues JSON requests through the pipeline.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
}

// New builds a client and its transport chain.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.AuthExemptPrefixes == nil {
		opts.AuthExemptPrefixes = DefaultAuthExemptPrefixes
	}
	if opts.Base == nil {
		opts.Base = http.DefaultTransport
	}
	if opts.Locale == "" {
		opts.Locale = "en"
	}
	logger := logging.OrNop(opts.Logger)

	var rt http.RoundTripper = &retryTransport{
		next:       opts.Base,
		maxRetries: opts.MaxRetries,
		backoff:    opts.RetryBackoff,
		timeout:    opts.Timeout,
		logger:     logger,
		metrics:    opts.Metrics,
	}
	if opts.Tokens != nil {
		rt = &authTransport{
			next:     rt,
			tokens:   opts.Tokens,
			exempt:   opts.AuthExemptPrefixes,
			basePath: base.Path,
			logger:   logger,
			metrics:  opts.Metrics,
		}
	}
	rt = newHeaderTransport(rt, opts.Locale)

	return &Client{
		base:   base,
		http:   &http.Client{Transport: rt},
		logger: logger,
	}, nil
}

// JSON performs req and decodes the unwrapped payload into out (which may be nil).
func (c *Client) JSON(ctx context.Context, req Request, out any) error {
	data, err := c.Raw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &apierr.Error{
			Kind:    apierr.KindServer,
			Status:  http.StatusOK,
			Message: "malformed response body",
			Err:     fmt.Errorf("decode %s %s: %w", req.Method, req.Path, err),
		}
	}
	return nil
}

// Raw performs req and returns the unwrapped success payload.
// Every failure is an *apierr.Error (or the caller's context error).
func (c *Client) Raw(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apierr.Normalize(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Normalize(err)
	}

	if resp.StatusCode >= 400 {
		e := apierr.FromResponse(resp.StatusCode, resp.Header, body)
		c.logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", e.Code),
			zap.String("correlationId", e.CorrelationID))
		return nil, e
	}

	data, ok := unwrapEnvelope(body)
	if !ok {
		return nil, apierr.FromResponse(resp.StatusCode, resp.Header, body)
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := *c.base
	u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.TrimLeft(req.Path, "/")
	path, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", req.Method, req.Path, err)
	}
	u.Path = path
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", req.Method, req.Path, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", req.Method, req.Path, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	return httpReq, nil
}

// unwrapEnvelope returns the data member of a {"success":...,"data":...}
// envelope, or the body unchanged when it is bare. ok is false when the
// envelope reports success:false.
func unwrapEnvelope(body []byte) (data []byte, ok bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
		return trimmed, true
	}
	root := gjson.ParseBytes(trimmed)
	if !root.IsObject() {
		return trimmed, true
	}

	success := root.Get("success")
	if success.Exists() && success.Type == gjson.False {
		return nil, false
	}

	d := root.Get("data")
	if !d.Exists() {
		return trimmed, true
	}
	if success.Exists() || len(root.Map()) == 1 {
		return []byte(d.Raw), true
	}
	return trimmed, true
}

// cloneRequest returns a copy of req bound to ctx with a fresh body.
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	r := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("request body cannot be replayed")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}

// drain reads and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
