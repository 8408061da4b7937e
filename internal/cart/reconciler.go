package cart

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
	"github.com/Mnabil10/fasketPWA-sub000/internal/logging"
	"github.com/Mnabil10/fasketPWA-sub000/internal/session"
)

// Selection is the delivery address and zone the server prices the cart for.
type Selection struct {
	AddressID string `json:"addressId,omitempty"`
	ZoneID    string `json:"zoneId,omitempty"`
}

// AddItemRequest is the server add-to-cart payload.
type AddItemRequest struct {
	ProductID string   `json:"productId"`
	Quantity  int      `json:"qty"`
	BranchID  string   `json:"branchId,omitempty"`
	OptionIDs []string `json:"optionIds,omitempty"`
}

// Backend is the server cart API.
type Backend interface {
	GetCart(ctx context.Context, sel Selection) (*ServerCart, error)
	AddItem(ctx context.Context, sel Selection, req AddItemRequest) (*ServerCart, error)
	UpdateItem(ctx context.Context, sel Selection, itemID string, qty int) (*ServerCart, error)
	RemoveItem(ctx context.Context, sel Selection, itemID string) (*ServerCart, error)
	ApplyCoupon(ctx context.Context, sel Selection, code string) (*ServerCart, error)
	RemoveCoupon(ctx context.Context, sel Selection) (*ServerCart, error)
	MergeCart(ctx context.Context, sel Selection, entries []LocalEntry) (*ServerCart, error)
}

// Auth reports the current auth state. *session.Manager implements it.
type Auth interface {
	IsAuthenticated() bool
	UserID() string
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithPreserveLocalOnMergeFailure keeps the guest cart when the login merge
// fails instead of clearing it.
func WithPreserveLocalOnMergeFailure() ReconcilerOption {
	return func(r *Reconciler) { r.preserveOnMergeFailure = true }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logging.OrNop(l) }
}

// Reconciler routes cart reads and writes to the local store or the server
// depending on auth state, and merges the local cart into the server cart on
// login.
type Reconciler struct {
	local   *LocalStore
	backend Backend
	auth    Auth
	logger  *zap.Logger

	preserveOnMergeFailure bool

	mu       sync.Mutex
	sel      Selection
	cache    *ServerCart
	cacheKey string

	// issued is bumped for every server call; applied is the issue number of
	// the response currently cached. Older responses never replace newer ones.
	issued  uint64
	applied uint64

	signedIn   bool
	lastUserID string
}

// NewReconciler wires a reconciler.
func NewReconciler(local *LocalStore, backend Backend, auth Auth, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		local:   local,
		backend: backend,
		auth:    auth,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Local returns the guest cart store.
func (r *Reconciler) Local() *LocalStore {
	return r.local
}

// Selection returns the current address/zone selection.
func (r *Reconciler) Selection() Selection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sel
}

// SelectAddress changes the address/zone the server cart is priced for.
// The cached server cart is keyed by the selection, so the next Unified call
// refetches.
func (r *Reconciler) SelectAddress(addressID, zoneID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sel = Selection{AddressID: strings.TrimSpace(addressID), ZoneID: strings.TrimSpace(zoneID)}
}

// maxUnifiedFetches bounds how often Unified refetches while the selection
// or the user keeps changing under it.
const maxUnifiedFetches = 3

// Unified returns the cart to render: the cached (or freshly fetched) server
// cart when authenticated, the local cart otherwise. A server cart is only
// returned for the user and selection current when Unified returns.
func (r *Reconciler) Unified(ctx context.Context) (*UnifiedCart, error) {
	for range maxUnifiedFetches {
		if !r.auth.IsAuthenticated() {
			return r.localView(), nil
		}

		r.mu.Lock()
		if r.cache != nil && r.cacheKey == r.keyLocked() {
			c := r.cache
			r.mu.Unlock()
			return serverView(c), nil
		}
		r.mu.Unlock()

		fetched, fetchedKey, err := r.serverCallKeyed(ctx, func(sel Selection) (*ServerCart, error) {
			return r.backend.GetCart(ctx, sel)
		})
		if err != nil {
			return nil, err
		}

		if view, ok := r.currentView(fetched, fetchedKey); ok {
			return view, nil
		}
		r.logger.Debug("selection changed during cart fetch, refetching")
	}
	return nil, fmt.Errorf("cart selection kept changing: %w", apierr.ErrRaceDiscarded)
}

// currentView picks the cart to return after a fetch issued under
// fetchedKey. It reports false when neither the cache nor the response
// belongs to the current user and selection.
func (r *Reconciler) currentView(fetched *ServerCart, fetchedKey string) (*UnifiedCart, bool) {
	if !r.auth.IsAuthenticated() {
		return r.localView(), true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.keyLocked()
	switch {
	case r.cache != nil && r.cacheKey == current:
		return serverView(r.cache), true
	case fetchedKey != current:
		return nil, false
	case fetched != nil:
		return serverView(fetched), true
	}
	return &UnifiedCart{Source: SourceServer, Items: []PreviewItem{}}, true
}

// HandleSessionEvent reacts to session transitions. The first EventLoggedIn
// for a user triggers MergeOnLogin; repeats for the same user are ignored,
// and so is a login without a user id while someone is signed in. Logout and
// invalidation drop the server cache.
func (r *Reconciler) HandleSessionEvent(ctx context.Context, ev session.Event) {
	switch ev.Type {
	case session.EventLoggedIn:
		r.mu.Lock()
		if r.signedIn && (ev.UserID == "" || ev.UserID == r.lastUserID) {
			r.mu.Unlock()
			r.logger.Debug("ignoring repeated login", zap.String("userId", ev.UserID))
			return
		}
		r.signedIn = true
		r.lastUserID = ev.UserID
		r.dropCacheLocked()
		r.mu.Unlock()

		if err := r.MergeOnLogin(ctx); err != nil {
			r.logger.Warn("merge local cart on login", zap.String("userId", ev.UserID), zap.Error(err))
		}

	case session.EventRefreshed:
		r.mu.Lock()
		r.signedIn = true
		if r.lastUserID == "" {
			r.lastUserID = ev.UserID
		}
		r.mu.Unlock()

	case session.EventLoggedOut, session.EventInvalidated:
		r.mu.Lock()
		r.signedIn = false
		r.lastUserID = ""
		r.dropCacheLocked()
		r.mu.Unlock()
	}
}

// MergeOnLogin sends the guest lines to the merge endpoint and caches the
// returned server cart. The local cart is cleared afterwards; on failure it
// is cleared too unless WithPreserveLocalOnMergeFailure was given. The merge
// is never retried automatically.
func (r *Reconciler) MergeOnLogin(ctx context.Context) error {
	entries := r.local.Entries()
	if len(entries) == 0 {
		return nil
	}

	_, err := r.serverCall(ctx, func(sel Selection) (*ServerCart, error) {
		return r.backend.MergeCart(ctx, sel, entries)
	})
	if err != nil {
		if !r.preserveOnMergeFailure {
			r.local.Clear()
		}
		r.Invalidate()
		return fmt.Errorf("merge cart: %w", err)
	}

	r.local.Clear()
	r.logger.Info("merged local cart", zap.Int("lines", len(entries)))
	return nil
}

// Add adds a line to the active cart.
func (r *Reconciler) Add(ctx context.Context, entry LocalEntry) error {
	if !r.auth.IsAuthenticated() {
		r.local.Add(entry)
		return nil
	}
	if entry.ProductID == "" || entry.Quantity <= 0 {
		return nil
	}

	req := AddItemRequest{
		ProductID: entry.ProductID,
		Quantity:  r.clamp(entry.Quantity),
		BranchID:  entry.BranchID,
		OptionIDs: optionIDs(entry.Options),
	}
	_, err := r.serverCall(ctx, func(sel Selection) (*ServerCart, error) {
		return r.backend.AddItem(ctx, sel, req)
	})
	return err
}

// SetQuantity changes the quantity of the line ref (server item id or local
// line key). A non-positive quantity removes the line.
func (r *Reconciler) SetQuantity(ctx context.Context, ref string, qty int) error {
	if !r.auth.IsAuthenticated() {
		r.local.SetQuantity(ref, qty)
		return nil
	}
	if qty <= 0 {
		return r.Remove(ctx, ref)
	}

	qty = r.clamp(qty)
	_, err := r.serverCall(ctx, func(sel Selection) (*ServerCart, error) {
		return r.backend.UpdateItem(ctx, sel, ref, qty)
	})
	return err
}

// Remove deletes the line ref from the active cart.
func (r *Reconciler) Remove(ctx context.Context, ref string) error {
	if !r.auth.IsAuthenticated() {
		r.local.Remove(ref)
		return nil
	}
	_, err := r.serverCall(ctx, func(sel Selection) (*ServerCart, error) {
		return r.backend.RemoveItem(ctx, sel, ref)
	})
	return err
}

// ApplyCoupon applies a coupon to the server cart. Guests get a
// validation error without a request.
func (r *Reconciler) ApplyCoupon(ctx context.Context, code string) error {
	if !r.auth.IsAuthenticated() {
		return apierr.NewValidationError("coupon", apierr.ReasonGuestCoupon)
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return apierr.NewValidationError("coupon", apierr.ReasonCouponRequired)
	}
	_, err := r.serverCall(ctx, func(sel Selection) (*ServerCart, error) {
		return r.backend.ApplyCoupon(ctx, sel, code)
	})
	return err
}

// RemoveCoupon removes the coupon from the server cart.
func (r *Reconciler) RemoveCoupon(ctx context.Context) error {
	if !r.auth.IsAuthenticated() {
		return apierr.NewValidationError("coupon", apierr.ReasonGuestCoupon)
	}
	_, err := r.serverCall(ctx, func(sel Selection) (*ServerCart, error) {
		return r.backend.RemoveCoupon(ctx, sel)
	})
	return err
}

// ClearAfterOrder clears the cart that was just ordered: the local cart for
// guests, the server cache for signed-in shoppers (the server empties the
// cart itself).
func (r *Reconciler) ClearAfterOrder(ctx context.Context) error {
	if r.auth.IsAuthenticated() {
		r.Invalidate()
		return nil
	}
	r.local.Clear()
	return r.local.Flush(ctx)
}

// Invalidate drops the cached server cart.
func (r *Reconciler) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropCacheLocked()
}

// serverCall issues one server request and caches its cart unless a request
// issued later has already been applied or the selection changed meanwhile.
// The returned cart is the response itself, applied or not.
func (r *Reconciler) serverCall(ctx context.Context, call func(Selection) (*ServerCart, error)) (*ServerCart, error) {
	c, _, err := r.serverCallKeyed(ctx, call)
	return c, err
}

// serverCallKeyed is serverCall that also returns the cache key the request
// was issued under.
func (r *Reconciler) serverCallKeyed(ctx context.Context, call func(Selection) (*ServerCart, error)) (*ServerCart, string, error) {
	r.mu.Lock()
	r.issued++
	seq := r.issued
	sel := r.sel
	key := r.keyLocked()
	r.mu.Unlock()

	c, err := call(sel)
	if err != nil {
		return nil, key, err
	}
	if c == nil {
		return nil, key, nil
	}
	if err := c.Validate(); err != nil {
		return nil, key, &apierr.Error{Kind: apierr.KindServer, Message: "inconsistent cart payload", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq <= r.applied || key != r.keyLocked() {
		r.logger.Debug("discarding stale cart response", zap.Uint64("seq", seq), zap.Uint64("applied", r.applied))
		return c, key, nil
	}
	r.applied = seq
	r.cache = c
	r.cacheKey = key
	return c, key, nil
}

func (r *Reconciler) localView() *UnifiedCart {
	items := r.local.Snapshot()
	var subtotal int64
	for _, it := range items {
		subtotal += it.LineTotalCents
	}
	return &UnifiedCart{Source: SourceLocal, Items: items, SubtotalCents: subtotal}
}

func serverView(c *ServerCart) *UnifiedCart {
	items := make([]PreviewItem, len(c.Items))
	copy(items, c.Items)
	return &UnifiedCart{
		Source:        SourceServer,
		Items:         items,
		SubtotalCents: c.SubtotalCents,
		Server:        c,
	}
}

// keyLocked derives the cache key from user and selection.
func (r *Reconciler) keyLocked() string {
	return cacheKey(r.auth.UserID(), r.sel)
}

func (r *Reconciler) dropCacheLocked() {
	r.cache = nil
	r.cacheKey = ""
	r.applied = r.issued
}

func (r *Reconciler) clamp(qty int) int {
	if max := r.local.MaxQuantity(); qty > max {
		return max
	}
	return qty
}

// cacheKey hashes the inputs with a domain prefix and 0x00 separators so
// that no two (user, address, zone) tuples collide.
func cacheKey(userID string, sel Selection) string {
	h := sha256.New()
	h.Write([]byte("fasket/server-cart/v1"))
	for _, part := range []string{userID, sel.AddressID, sel.ZoneID} {
		h.Write([]byte{0x00})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
