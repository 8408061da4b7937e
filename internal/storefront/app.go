// Package storefront wires the cart, session, pipeline, quote, checkout and
// order components into one App.
//
// App is an explicit context object: every component receives its
// collaborators from here, and tests build their own App against a fake
// backend instead of relying on process-wide state.
package storefront

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Mnabil10/fasketPWA-sub000/internal/api"
	"github.com/Mnabil10/fasketPWA-sub000/internal/cart"
	"github.com/Mnabil10/fasketPWA-sub000/internal/checkout"
	"github.com/Mnabil10/fasketPWA-sub000/internal/config"
	"github.com/Mnabil10/fasketPWA-sub000/internal/logging"
	"github.com/Mnabil10/fasketPWA-sub000/internal/metrics"
	"github.com/Mnabil10/fasketPWA-sub000/internal/orders"
	"github.com/Mnabil10/fasketPWA-sub000/internal/quote"
	"github.com/Mnabil10/fasketPWA-sub000/internal/session"
	"github.com/Mnabil10/fasketPWA-sub000/internal/storage"
	"github.com/Mnabil10/fasketPWA-sub000/internal/transport"
)

// Option configures New.
type Option func(*settings)

type settings struct {
	logger   *zap.Logger
	metrics  *metrics.Collector
	base     http.RoundTripper
	online   func() bool
	keys     checkout.KeyGenerator
	cartOpts []cart.ReconcilerOption
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics sets the metrics collector shared by every component.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *settings) { s.metrics = c }
}

// WithTransport sets the base HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *settings) { s.base = rt }
}

// WithConnectivity sets the connectivity check used by checkout.
func WithConnectivity(online func() bool) Option {
	return func(s *settings) { s.online = online }
}

// WithKeyGenerator sets the idempotency key generator used by checkout.
func WithKeyGenerator(g checkout.KeyGenerator) Option {
	return func(s *settings) { s.keys = g }
}

// WithCartOptions passes options to the cart reconciler.
func WithCartOptions(opts ...cart.ReconcilerOption) Option {
	return func(s *settings) { s.cartOpts = append(s.cartOpts, opts...) }
}

// App is one storefront client instance.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Collector

	Store   *storage.Store
	Session *session.Manager
	API     *api.Client
	Cart    *cart.Reconciler
	Quotes  *quote.Engine
	Orders  *orders.Lifecycle
	Loyalty *LoyaltyLedger

	keys        checkout.KeyGenerator
	online      func() bool
	unsubscribe func()
}

// New opens the client state at cfg.Storage.Path and wires every component.
// The session is hydrated and the guest cart loaded before New returns.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	s := settings{online: func() bool { return true }}
	for _, opt := range opts {
		opt(&s)
	}
	logger := logging.OrNop(s.logger)
	if s.keys == nil {
		s.keys = checkout.UUIDv7Generator{}
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: s.metrics,
		Store:   store,
		keys:    s.keys,
		online:  s.online,
	}
	a.Loyalty = NewLoyaltyLedger(store, func() string { return a.Session.UserID() })

	// The refresher calls back into the API client, which is built on top of
	// the session; the closure breaks the cycle.
	refresher := session.RefresherFunc(func(ctx context.Context, refreshToken string) (session.Tokens, error) {
		return a.API.RefreshTokens(ctx, refreshToken)
	})
	a.Session = session.NewManager(store, refresher,
		session.WithLogger(logger.Named("session")),
		session.WithMetrics(s.metrics))

	httpClient, err := transport.New(transport.Options{
		BaseURL:            cfg.API.BaseURL,
		Locale:             cfg.Locale,
		Timeout:            cfg.API.Timeout(),
		MaxRetries:         cfg.API.MaxRetries,
		RetryBackoff:       cfg.API.RetryBackoff(),
		AuthExemptPrefixes: cfg.API.AuthExemptPrefixes,
		Tokens:             a.Session,
		Base:               s.base,
		Logger:             logger.Named("http"),
		Metrics:            s.metrics,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	a.API = api.New(httpClient)

	local := cart.NewLocalStore(store,
		cart.WithMaxQuantity(cfg.Cart.MaxQuantity),
		cart.WithLocalLogger(logger.Named("cart")))
	cartOpts := append([]cart.ReconcilerOption{cart.WithLogger(logger.Named("cart"))}, s.cartOpts...)
	a.Cart = cart.NewReconciler(local, a.API, a.Session, cartOpts...)
	a.unsubscribe = a.Session.Subscribe(a.Cart.HandleSessionEvent)

	a.Quotes = quote.NewEngine(a.API,
		quote.WithDebounce(cfg.Quote.Debounce()),
		quote.WithLogger(logger.Named("quote")),
		quote.WithMetrics(s.metrics))
	a.Orders = orders.NewLifecycle(a.API,
		orders.WithLogger(logger.Named("orders")),
		orders.WithMetrics(s.metrics))

	if err := a.Session.EnsureHydrated(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("hydrate session: %w", err)
	}
	if err := local.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Login signs in and saves the session. The resulting login event merges
// the guest cart into the server cart.
func (a *App) Login(ctx context.Context, creds api.Credentials) error {
	tok, err := a.API.Login(ctx, creds)
	if err != nil {
		return err
	}
	return a.Session.Save(ctx, tok)
}

// Logout clears the session.
func (a *App) Logout(ctx context.Context) error {
	return a.Session.Clear(ctx)
}

// NewCheckout creates a submitter for one checkout screen. onPlaced may be nil.
func (a *App) NewCheckout(onPlaced func(*checkout.Result)) *checkout.Submitter {
	opts := []checkout.Option{
		checkout.WithKeyGenerator(a.keys),
		checkout.WithKeyLedger(a.Store),
		checkout.WithCartClearer(a.Cart),
		checkout.WithLoyaltyLedger(a.Loyalty),
		checkout.WithConnectivity(a.online),
		checkout.WithLogger(a.Logger.Named("checkout")),
		checkout.WithMetrics(a.Metrics),
	}
	if onPlaced != nil {
		opts = append(opts, checkout.OnPlaced(onPlaced))
	}
	return checkout.NewSubmitter(a.API, a.Session, opts...)
}

// CheckoutCart returns the cart id and lines a checkout request is built from.
func (a *App) CheckoutCart(ctx context.Context) (string, []checkout.Item, error) {
	u, err := a.Cart.Unified(ctx)
	if err != nil {
		return "", nil, err
	}
	cartID := ""
	if u.Server != nil {
		cartID = u.Server.CartID
	}
	return cartID, toItems(u.Items), nil
}

// AbandonCheckout drops the pending idempotency key of the signed-in cart so
// the next checkout starts a new attempt. Submitters already open keep their
// in-memory key; call Submitter.Abandon on those.
func (a *App) AbandonCheckout(ctx context.Context) error {
	if !a.Session.IsAuthenticated() {
		return nil
	}
	cartID, _, err := a.CheckoutCart(ctx)
	if err != nil || cartID == "" {
		return err
	}
	if err := a.Store.ReleaseCheckoutKey(ctx, cartID); err != nil {
		return fmt.Errorf("release checkout key: %w", err)
	}
	return nil
}

// PendingCheckoutKey returns the idempotency key a signed-in checkout of the
// current cart would reuse, if an earlier attempt left one.
func (a *App) PendingCheckoutKey(ctx context.Context) (string, bool, error) {
	if !a.Session.IsAuthenticated() {
		return "", false, nil
	}
	cartID, _, err := a.CheckoutCart(ctx)
	if err != nil || cartID == "" {
		return "", false, err
	}
	return a.Store.CheckoutKey(ctx, cartID)
}

// QuoteInput builds a guest quote input from the local cart.
func (a *App) QuoteInput(address string) quote.Input {
	return quote.Input{Items: toItems(a.Cart.Local().Snapshot()), Address: address}
}

// Close flushes the guest cart and releases every resource.
func (a *App) Close() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.Quotes != nil {
		a.Quotes.Close()
	}
	var firstErr error
	if a.Cart != nil {
		firstErr = a.Cart.Local().Close()
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func toItems(preview []cart.PreviewItem) []checkout.Item {
	items := make([]checkout.Item, 0, len(preview))
	for _, p := range preview {
		var opts []string
		for _, o := range p.Options {
			opts = append(opts, o.ID)
		}
		items = append(items, checkout.Item{
			ProductID: p.ProductID,
			Quantity:  p.Quantity,
			BranchID:  p.BranchID,
			OptionIDs: opts,
		})
	}
	return items
}
