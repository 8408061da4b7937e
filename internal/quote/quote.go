// Package quote computes delivery quotes for guest checkout.
//
// A quote is never persisted. It is recomputed whenever the address text or
// the cart contents change, debounced so typing does not flood the backend.
// Responses can complete in any order; the Engine applies one only if no newer
// request was issued after it.
package quote

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
	"github.com/Mnabil10/fasketPWA-sub000/internal/logging"
	"github.com/Mnabil10/fasketPWA-sub000/internal/metrics"
)

// DefaultDebounce is the quiet period before a scheduled quote is requested.
const DefaultDebounce = 350 * time.Millisecond

// Item is one cart line sent for quoting.
type Item struct {
	ProductID string   `json:"productId"`
	Quantity  int      `json:"qty"`
	BranchID  string   `json:"branchId,omitempty"`
	OptionIDs []string `json:"optionIds,omitempty"`
}

// Input is what the quote depends on.
type Input struct {
	Items            []Item
	Address          string
	DeliveryWindowID string
	ScheduledAt      *time.Time
}

// Request is the guest quote payload.
type Request struct {
	Items            []Item     `json:"items"`
	Address          string     `json:"address"`
	DeliveryWindowID string     `json:"deliveryWindowId,omitempty"`
	ScheduledAt      *time.Time `json:"scheduledAt,omitempty"`
}

// GroupQuote is the quote for one branch.
type GroupQuote struct {
	BranchID                 string `json:"branchId"`
	ProviderID               string `json:"providerId,omitempty"`
	SubtotalCents            int64  `json:"subtotalCents"`
	ShippingFeeCents         int64  `json:"shippingFeeCents"`
	DeliveryUnavailable      bool   `json:"deliveryUnavailable,omitempty"`
	DeliveryRequiresLocation bool   `json:"deliveryRequiresLocation,omitempty"`
}

// Quote is a guest delivery quote. SkippedBranchIDs lists branches that
// cannot deliver to the address.
type Quote struct {
	Groups           []GroupQuote `json:"groups"`
	SubtotalCents    int64        `json:"subtotalCents"`
	ShippingFeeCents int64        `json:"shippingFeeCents"`
	ServiceFeeCents  int64        `json:"serviceFeeCents"`
	SkippedBranchIDs []string     `json:"skippedBranchIds"`
}

// TotalCents is the quoted amount due.
func (q *Quote) TotalCents() int64 {
	return q.SubtotalCents + q.ShippingFeeCents + q.ServiceFeeCents
}

// Backend requests guest quotes.
type Backend interface {
	GuestQuote(ctx context.Context, req Request) (*Quote, error)
}

// State is what the UI renders. Loading stays true until the latest request
// completes.
type State struct {
	Quote   *Quote
	Err     error
	Loading bool
	Seq     int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithDebounce sets the quiet period used by Schedule.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithClock sets the sequence clock.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine issues guest quote requests and keeps the latest result.
type Engine struct {
	backend  Backend
	clock    *Clock
	debounce time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	timer     *time.Timer
	closed    bool
	listeners map[int]func(State)
	nextID    int
}

// NewEngine creates an engine. Close stops pending scheduled requests.
func NewEngine(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:   backend,
		clock:     NewClock(),
		debounce:  DefaultDebounce,
		logger:    zap.NewNop(),
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnChange registers fn to receive every state change.
func (e *Engine) OnChange(fn func(State)) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// Schedule requests a quote for in once no further Schedule call arrives
// within the debounce period.
func (e *Engine) Schedule(in Input) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		if _, err := e.Fetch(e.ctx, in); err != nil && !errors.Is(err, apierr.ErrRaceDiscarded) {
			e.logger.Debug("scheduled quote failed", zap.Error(err))
		}
	})
}

// Fetch requests a quote for in immediately. An empty address or an empty
// cart clears the quote without a request.
//
// The result is applied only if no later request was issued meanwhile;
// otherwise Fetch returns apierr.ErrRaceDiscarded and the state is untouched.
// A failure of the latest request clears the quote and records the error.
func (e *Engine) Fetch(ctx context.Context, in Input) (*Quote, error) {
	req, ok := buildRequest(in)
	seq := e.clock.Next()

	if !ok {
		e.apply(seq, func(s *State) { *s = State{Seq: seq} })
		return nil, nil
	}
	e.apply(seq, func(s *State) {
		s.Loading = true
		s.Seq = seq
	})

	q, err := e.backend.GuestQuote(ctx, req)

	applied := e.apply(seq, func(s *State) {
		if err != nil {
			*s = State{Err: err, Seq: seq}
			return
		}
		*s = State{Quote: q, Seq: seq}
	})
	if !applied {
		e.metrics.RecordQuoteDiscarded()
		e.logger.Debug("discarding stale quote", zap.Int64("seq", seq), zap.Int64("latest", e.clock.Current()))
		return nil, apierr.ErrRaceDiscarded
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Close stops the debounce timer and cancels a scheduled request in flight.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
	e.cancel()
}

// apply runs mutate under the lock if seq is still the latest issued
// sequence, then notifies listeners.
func (e *Engine) apply(seq int64, mutate func(*State)) bool {
	e.mu.Lock()
	if seq != e.clock.Current() {
		e.mu.Unlock()
		return false
	}
	mutate(&e.state)
	snapshot := e.state
	fns := make([]func(State), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
	return true
}

func buildRequest(in Input) (Request, bool) {
	address := norm.NFC.String(strings.TrimSpace(in.Address))
	if address == "" {
		return Request{}, false
	}

	items := make([]Item, 0, len(in.Items))
	for _, it := range in.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return Request{}, false
	}

	return Request{
		Items:            items,
		Address:          address,
		DeliveryWindowID: strings.TrimSpace(in.DeliveryWindowID),
		ScheduledAt:      in.ScheduledAt,
	}, true
}
