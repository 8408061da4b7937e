package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Mnabil10/fasketPWA-sub000/internal/logging"
	"github.com/Mnabil10/fasketPWA-sub000/internal/metrics"
)

var (
	errGroupIDRequired = errors.New("order group id is required")
	errOrderIDRequired = errors.New("order id is required")
)

// Backend is the server order API.
type Backend interface {
	GetGroup(ctx context.Context, groupID string) (*GroupSummary, error)
	CancelGroup(ctx context.Context, groupID, reason string) (*CancelResponse, error)
	GetOrder(ctx context.Context, orderID string) (*OrderDetail, error)
	CancelOrder(ctx context.Context, orderID, reason string) error
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(lc *Lifecycle) { lc.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(lc *Lifecycle) { lc.metrics = c }
}

// Lifecycle reads and cancels placed orders.
type Lifecycle struct {
	backend Backend
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewLifecycle wires a lifecycle over backend.
func NewLifecycle(backend Backend, opts ...Option) *Lifecycle {
	lc := &Lifecycle{backend: backend, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(lc)
	}
	return lc
}

// Group fetches an order group.
func (lc *Lifecycle) Group(ctx context.Context, groupID string) (*GroupSummary, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, errGroupIDRequired
	}
	return lc.backend.GetGroup(ctx, groupID)
}

// Order fetches a single order.
func (lc *Lifecycle) Order(ctx context.Context, orderID string) (*OrderDetail, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errOrderIDRequired
	}
	return lc.backend.GetOrder(ctx, orderID)
}

// CancelGroup asks the server to cancel every provider of the group, then
// fetches the group again so the caller renders server statuses.
//
// When the cancellation succeeded but the follow-up fetch failed, the outcome
// is still returned together with the fetch error.
func (lc *Lifecycle) CancelGroup(ctx context.Context, groupID, reason string) (*CancelOutcome, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, errGroupIDRequired
	}

	resp, err := lc.backend.CancelGroup(ctx, groupID, strings.TrimSpace(reason))
	if err != nil {
		return nil, err
	}

	out := &CancelOutcome{
		Kind:      Classify(*resp),
		Cancelled: append([]string{}, resp.CancelledProviders...),
		Blocked:   append([]string{}, resp.BlockedProviders...),
	}
	lc.metrics.RecordCancellation(string(out.Kind))
	lc.logger.Info("order group cancellation",
		zap.String("groupId", groupID),
		zap.String("outcome", string(out.Kind)),
		zap.Int("cancelled", len(out.Cancelled)),
		zap.Int("blocked", len(out.Blocked)))

	g, err := lc.backend.GetGroup(ctx, groupID)
	if err != nil {
		return out, fmt.Errorf("refresh order group %s: %w", groupID, err)
	}
	out.Group = g
	return out, nil
}

// CancelOrder cancels a single order and returns its state fetched afterwards.
func (lc *Lifecycle) CancelOrder(ctx context.Context, orderID, reason string) (*OrderDetail, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errOrderIDRequired
	}
	if err := lc.backend.CancelOrder(ctx, orderID, strings.TrimSpace(reason)); err != nil {
		return nil, err
	}
	lc.metrics.RecordCancellation("order")

	o, err := lc.backend.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("refresh order %s: %w", orderID, err)
	}
	return o, nil
}
