package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
	"github.com/Mnabil10/fasketPWA-sub000/internal/logging"
	"github.com/Mnabil10/fasketPWA-sub000/internal/metrics"
)

// ErrSubmitInFlight is returned by Submit while another submission of the same
// Submitter is running.
var ErrSubmitInFlight = errors.New("checkout submission already in flight")

// In-memory key scopes. Signed-in attempts with a cart id are scoped by that
// id and persisted in the ledger.
const (
	guestScope   = "guest"
	accountScope = "account"
)

func persisted(scope string) bool {
	return scope != "" && scope != guestScope && scope != accountScope
}

// Backend places orders. Responses are returned raw so the caller can tell
// single orders from groups.
type Backend interface {
	PlaceOrder(ctx context.Context, p OrderPayload) ([]byte, error)
	PlaceGuestOrder(ctx context.Context, p GuestOrderPayload) ([]byte, error)
}

// Auth reports whether the shopper is signed in.
type Auth interface {
	IsAuthenticated() bool
}

// CartClearer empties the cart once an order is placed. *cart.Reconciler
// implements it.
type CartClearer interface {
	ClearAfterOrder(ctx context.Context) error
}

// LoyaltyLedger records loyalty point changes of the signed-in shopper.
type LoyaltyLedger interface {
	AdjustPoints(ctx context.Context, delta int, orderRef string) error
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithKeyGenerator sets the idempotency key generator.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(s *Submitter) { s.keys = g }
}

// WithKeyLedger persists signed-in attempt keys per cart.
func WithKeyLedger(l KeyLedger) Option {
	return func(s *Submitter) { s.ledger = l }
}

// WithCartClearer sets what is cleared after a successful order.
func WithCartClearer(c CartClearer) Option {
	return func(s *Submitter) { s.cart = c }
}

// WithLoyaltyLedger sets the loyalty ledger debited after a successful order.
func WithLoyaltyLedger(l LoyaltyLedger) Option {
	return func(s *Submitter) { s.loyalty = l }
}

// WithConnectivity sets the connectivity check run before submitting.
func WithConnectivity(online func() bool) Option {
	return func(s *Submitter) {
		if online != nil {
			s.online = online
		}
	}
}

// OnPlaced registers a hook run after every success effect, typically
// navigation to the order screen.
func OnPlaced(fn func(*Result)) Option {
	return func(s *Submitter) { s.onPlaced = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Submitter) { s.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Submitter) { s.metrics = c }
}

// Submitter runs checkout attempts for one checkout screen.
type Submitter struct {
	backend  Backend
	auth     Auth
	keys     KeyGenerator
	ledger   KeyLedger
	cart     CartClearer
	loyalty  LoyaltyLedger
	online   func() bool
	onPlaced func(*Result)
	logger   *zap.Logger
	metrics  *metrics.Collector

	saving atomic.Bool

	mu      sync.Mutex
	phase   Phase
	key     string
	scope   string
	lastErr error
	result  *Result
}

// NewSubmitter creates a submitter in the IDLE phase.
func NewSubmitter(backend Backend, auth Auth, opts ...Option) *Submitter {
	s := &Submitter{
		backend: backend,
		auth:    auth,
		keys:    UUIDv7Generator{},
		online:  func() bool { return true },
		logger:  zap.NewNop(),
		phase:   PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Phase returns the current phase.
func (s *Submitter) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Key returns the idempotency key of the open attempt, or "".
func (s *Submitter) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Err returns the error of the last failed submission.
func (s *Submitter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Result returns the order placed by the last successful submission.
func (s *Submitter) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Submit validates req and places the order.
//
// A call made while another is running returns ErrSubmitInFlight without
// doing anything. Validation failures return *apierr.ValidationError before
// any request. Request failures keep the idempotency key for the retry.
func (s *Submitter) Submit(ctx context.Context, req Request) (*Result, error) {
	if !s.saving.CompareAndSwap(false, true) {
		return nil, ErrSubmitInFlight
	}
	defer s.saving.Store(false)

	authenticated := s.auth.IsAuthenticated()
	s.setPhase(PhaseValidating)

	if err := Validate(req, authenticated, s.online()); err != nil {
		s.fail(err, false)
		s.metrics.RecordCheckout("invalid")
		return nil, err
	}

	key, err := s.attemptKey(ctx, authenticated, req.CartID)
	if err != nil {
		s.fail(err, false)
		return nil, err
	}

	s.setPhase(PhaseSubmitting)
	s.logger.Info("submitting order",
		zap.Bool("authenticated", authenticated),
		zap.String("cartId", req.CartID),
		zap.String("idempotencyKey", key))

	raw, err := s.place(ctx, req, key, authenticated)
	if err != nil {
		s.fail(err, true)
		s.metrics.RecordCheckout("failed")
		s.logger.Warn("order submission failed", zap.String("idempotencyKey", key), zap.Error(err))
		return nil, err
	}

	res, err := Discriminate(raw)
	if err != nil {
		err = &apierr.Error{Kind: apierr.KindServer, Message: "malformed order response", Err: err}
		s.fail(err, true)
		s.metrics.RecordCheckout("failed")
		return nil, err
	}

	s.succeed(ctx, req, res, authenticated)
	return res, nil
}

// Abandon discards the open attempt and its key. The next Submit starts a new
// attempt with a new key.
func (s *Submitter) Abandon(ctx context.Context) error {
	if s.saving.Load() {
		return ErrSubmitInFlight
	}

	s.mu.Lock()
	scope := s.scope
	s.key = ""
	s.scope = ""
	s.lastErr = nil
	s.phase = PhaseIdle
	s.mu.Unlock()

	if persisted(scope) && s.ledger != nil {
		if err := s.ledger.ReleaseCheckoutKey(ctx, scope); err != nil {
			return fmt.Errorf("release checkout key: %w", err)
		}
	}
	return nil
}

// attemptKey returns the key of the open attempt, creating it on the first
// submission. Signed-in attempts are anchored on the cart id in the ledger.
func (s *Submitter) attemptKey(ctx context.Context, authenticated bool, cartID string) (string, error) {
	scope := guestScope
	if authenticated {
		scope = accountScope
		if id := strings.TrimSpace(cartID); id != "" {
			scope = id
		}
	}

	s.mu.Lock()
	if s.key != "" && s.scope == scope {
		key := s.key
		s.mu.Unlock()
		return key, nil
	}
	s.mu.Unlock()

	var key string
	if persisted(scope) && s.ledger != nil {
		existing, ok, err := s.ledger.CheckoutKey(ctx, scope)
		if err != nil {
			return "", fmt.Errorf("read checkout key: %w", err)
		}
		if ok {
			key = existing
		} else if key, err = s.ledger.ReserveCheckoutKey(ctx, scope, s.keys.Generate()); err != nil {
			return "", fmt.Errorf("reserve checkout key: %w", err)
		}
	} else {
		key = s.keys.Generate()
	}

	s.mu.Lock()
	s.key = key
	s.scope = scope
	s.mu.Unlock()
	return key, nil
}

func (s *Submitter) place(ctx context.Context, req Request, key string, authenticated bool) ([]byte, error) {
	if authenticated {
		return s.backend.PlaceOrder(ctx, OrderPayload{
			CartID:           req.CartID,
			AddressID:        strings.TrimSpace(req.AddressID),
			ZoneID:           strings.TrimSpace(req.ZoneID),
			PaymentMethod:    req.PaymentMethod,
			SavedMethodID:    savedMethod(req),
			DeliveryWindowID: slot(req),
			ScheduledAt:      scheduledAt(req),
			CouponCode:       strings.ToUpper(strings.TrimSpace(req.CouponCode)),
			LoyaltyPoints:    max(req.LoyaltyPoints, 0),
			Note:             clean(req.Note),
			IdempotencyKey:   key,
		})
	}
	return s.backend.PlaceGuestOrder(ctx, GuestOrderPayload{
		Items:            req.Items,
		Name:             clean(req.Contact.Name),
		Phone:            NormalizePhone(req.Contact.Phone),
		Address:          clean(req.Contact.Address),
		PaymentMethod:    req.PaymentMethod,
		DeliveryWindowID: slot(req),
		ScheduledAt:      scheduledAt(req),
		Note:             clean(req.Note),
		IdempotencyKey:   key,
	})
}

// succeed applies the success effects in order: loyalty, cart, key release,
// then the OnPlaced hook. Effect failures are logged; the order stands.
func (s *Submitter) succeed(ctx context.Context, req Request, res *Result, authenticated bool) {
	if authenticated && req.LoyaltyPoints > 0 && s.loyalty != nil {
		if err := s.loyalty.AdjustPoints(ctx, -req.LoyaltyPoints, res.Ref()); err != nil {
			s.logger.Warn("adjust loyalty points", zap.String("order", res.Ref()), zap.Error(err))
		}
	}
	if s.cart != nil {
		if err := s.cart.ClearAfterOrder(ctx); err != nil {
			s.logger.Warn("clear cart after order", zap.String("order", res.Ref()), zap.Error(err))
		}
	}

	s.mu.Lock()
	scope := s.scope
	s.key = ""
	s.scope = ""
	s.lastErr = nil
	s.result = res
	s.phase = PhaseSucceeded
	s.mu.Unlock()

	if persisted(scope) && s.ledger != nil {
		if err := s.ledger.ReleaseCheckoutKey(ctx, scope); err != nil {
			s.logger.Warn("release checkout key", zap.String("scope", scope), zap.Error(err))
		}
	}

	s.metrics.RecordCheckout("succeeded")
	s.logger.Info("order placed", zap.String("order", res.Ref()), zap.Bool("group", res.IsGroup()))
	if s.onPlaced != nil {
		s.onPlaced(res)
	}
}

// fail records err. submitted is true when the request may have reached the
// server; only then does the attempt enter FAILED with its key kept.
func (s *Submitter) fail(err error, submitted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if submitted || s.key != "" {
		s.phase = PhaseFailed
		return
	}
	s.phase = PhaseIdle
}

func (s *Submitter) setPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func savedMethod(req Request) string {
	if req.PaymentMethod == PaymentCash {
		return ""
	}
	return strings.TrimSpace(req.SavedMethodID)
}

func slot(req Request) string {
	if req.Mode != ModeScheduled {
		return ""
	}
	return strings.TrimSpace(req.DeliveryWindowID)
}

func scheduledAt(req Request) *time.Time {
	if req.Mode != ModeScheduled {
		return nil
	}
	return req.ScheduledAt
}
