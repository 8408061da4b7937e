package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
	"github.com/Mnabil10/fasketPWA-sub000/internal/session"
)

type fakeAuth struct {
	mu     sync.Mutex
	userID string
}

func (a *fakeAuth) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID != ""
}

func (a *fakeAuth) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

func (a *fakeAuth) set(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userID = id
}

// fakeBackend keeps a single server cart and records every call.
type fakeBackend struct {
	mu       sync.Mutex
	calls    []string
	items    []PreviewItem
	coupon   string
	merged   [][]LocalEntry
	mergeErr error
	sels     []Selection
	nextID   int
}

func (b *fakeBackend) record(call string, sel Selection) {
	b.calls = append(b.calls, call)
	b.sels = append(b.sels, sel)
}

func (b *fakeBackend) cart() *ServerCart {
	items := append([]PreviewItem(nil), b.items...)
	var subtotal int64
	for _, it := range items {
		subtotal += it.LineTotalCents
	}
	return &ServerCart{
		CartID:        "cart-1",
		Groups:        []Group{{BranchID: "b1", Items: items, SubtotalCents: subtotal}},
		SubtotalCents: subtotal,
		CouponCode:    b.coupon,
	}
}

func (b *fakeBackend) callCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (b *fakeBackend) GetCart(_ context.Context, sel Selection) (*ServerCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("get", sel)
	return b.cart(), nil
}

func (b *fakeBackend) AddItem(_ context.Context, sel Selection, req AddItemRequest) (*ServerCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("add", sel)
	b.nextID++
	b.items = append(b.items, PreviewItem{
		ItemID:         fmt.Sprintf("i%d", b.nextID),
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		UnitPriceCents: 100,
		LineTotalCents: 100 * int64(req.Quantity),
		BranchID:       "b1",
	})
	return b.cart(), nil
}

func (b *fakeBackend) UpdateItem(_ context.Context, sel Selection, itemID string, qty int) (*ServerCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("update", sel)
	for i := range b.items {
		if b.items[i].ItemID == itemID {
			b.items[i].Quantity = qty
			b.items[i].LineTotalCents = b.items[i].UnitPriceCents * int64(qty)
		}
	}
	return b.cart(), nil
}

func (b *fakeBackend) RemoveItem(_ context.Context, sel Selection, itemID string) (*ServerCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("remove", sel)
	kept := b.items[:0]
	for _, it := range b.items {
		if it.ItemID != itemID {
			kept = append(kept, it)
		}
	}
	b.items = kept
	return b.cart(), nil
}

func (b *fakeBackend) ApplyCoupon(_ context.Context, sel Selection, code string) (*ServerCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("coupon", sel)
	b.coupon = code
	return b.cart(), nil
}

func (b *fakeBackend) RemoveCoupon(_ context.Context, sel Selection) (*ServerCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("uncoupon", sel)
	b.coupon = ""
	return b.cart(), nil
}

func (b *fakeBackend) MergeCart(_ context.Context, sel Selection, entries []LocalEntry) (*ServerCart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("merge", sel)
	if b.mergeErr != nil {
		return nil, b.mergeErr
	}
	b.merged = append(b.merged, entries)
	for _, e := range entries {
		b.nextID++
		b.items = append(b.items, PreviewItem{
			ItemID:         fmt.Sprintf("i%d", b.nextID),
			ProductID:      e.ProductID,
			Quantity:       e.Quantity,
			UnitPriceCents: e.UnitPriceCents,
			LineTotalCents: e.UnitPriceCents * int64(e.Quantity),
			BranchID:       "b1",
		})
	}
	return b.cart(), nil
}

func newReconciler(t *testing.T, opts ...ReconcilerOption) (*Reconciler, *fakeBackend, *fakeAuth) {
	t.Helper()
	backend := &fakeBackend{}
	auth := &fakeAuth{}
	r := NewReconciler(newLocal(t, openStorage(t)), backend, auth, opts...)
	return r, backend, auth
}

func TestReconciler_GuestUsesLocalCart(t *testing.T) {
	ctx := context.Background()
	r, backend, _ := newReconciler(t)

	require.NoError(t, r.Add(ctx, LocalEntry{ProductID: "p1", Quantity: 2, UnitPriceCents: 300}))
	require.NoError(t, r.SetQuantity(ctx, "p1", 3))

	u, err := r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, u.Source)
	assert.Nil(t, u.Server)
	assert.Equal(t, 3, u.ItemCount())
	assert.Equal(t, int64(900), u.SubtotalCents)
	assert.Empty(t, backend.calls)
}

func TestReconciler_AuthenticatedUsesServerAndCaches(t *testing.T) {
	ctx := context.Background()
	r, backend, auth := newReconciler(t)
	auth.set("u1")

	require.NoError(t, r.Add(ctx, LocalEntry{ProductID: "p1", Quantity: 2}))

	u, err := r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceServer, u.Source)
	require.NotNil(t, u.Server)
	assert.Equal(t, "cart-1", u.Server.CartID)
	require.Len(t, u.Items, 1)
	assert.Equal(t, "i1", u.Items[0].Ref())

	_, err = r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, backend.callCount("get"), "add response should be cached")
	assert.Equal(t, 0, r.Local().Len())
}

func TestReconciler_ServerQuantityZeroRemoves(t *testing.T) {
	ctx := context.Background()
	r, backend, auth := newReconciler(t)
	auth.set("u1")
	require.NoError(t, r.Add(ctx, LocalEntry{ProductID: "p1", Quantity: 1}))

	require.NoError(t, r.SetQuantity(ctx, "i1", 0))

	assert.Equal(t, 1, backend.callCount("remove"))
	assert.Equal(t, 0, backend.callCount("update"))
	u, err := r.Unified(ctx)
	require.NoError(t, err)
	assert.True(t, u.IsEmpty())
}

func TestReconciler_ServerQuantityClamped(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	auth := &fakeAuth{userID: "u1"}
	r := NewReconciler(newLocal(t, openStorage(t), WithMaxQuantity(4)), backend, auth)

	require.NoError(t, r.Add(ctx, LocalEntry{ProductID: "p1", Quantity: 10}))
	require.NoError(t, r.SetQuantity(ctx, "i1", 7))

	u, err := r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, u.Items[0].Quantity)
}

func TestReconciler_SelectionChangeRefetches(t *testing.T) {
	ctx := context.Background()
	r, backend, auth := newReconciler(t)
	auth.set("u1")

	_, err := r.Unified(ctx)
	require.NoError(t, err)
	_, err = r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.callCount("get"))

	r.SelectAddress(" a1 ", "z1")
	_, err = r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.callCount("get"))
	assert.Equal(t, Selection{AddressID: "a1", ZoneID: "z1"}, backend.sels[len(backend.sels)-1])
}

func TestReconciler_MergeOnceOnRepeatedLogin(t *testing.T) {
	ctx := context.Background()
	r, backend, auth := newReconciler(t)

	require.NoError(t, r.Add(ctx, LocalEntry{ProductID: "p1", Quantity: 2, UnitPriceCents: 400}))
	require.NoError(t, r.Add(ctx, LocalEntry{ProductID: "p2", Quantity: 1, UnitPriceCents: 150}))

	auth.set("u1")
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn, UserID: "u1"})
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn, UserID: "u1"})
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventRefreshed, UserID: "u1"})

	assert.Equal(t, 1, backend.callCount("merge"))
	require.Len(t, backend.merged, 1)
	assert.Len(t, backend.merged[0], 2)
	assert.Equal(t, 0, r.Local().Len())

	u, err := r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceServer, u.Source)
	assert.Equal(t, 3, u.ItemCount())
	assert.Equal(t, 0, backend.callCount("get"))
}

func TestReconciler_MergeAgainAfterLogout(t *testing.T) {
	ctx := context.Background()
	r, backend, auth := newReconciler(t)

	r.Local().Add(LocalEntry{ProductID: "p1", Quantity: 1})
	auth.set("u1")
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn, UserID: "u1"})

	auth.set("")
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedOut, UserID: "u1"})
	r.Local().Add(LocalEntry{ProductID: "p2", Quantity: 1})

	auth.set("u1")
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn, UserID: "u1"})

	assert.Equal(t, 2, backend.callCount("merge"))
}

func TestReconciler_LoginWithoutUserIDDoesNotMergeAgain(t *testing.T) {
	ctx := context.Background()
	r, backend, auth := newReconciler(t)

	r.Local().Add(LocalEntry{ProductID: "p1", Quantity: 1})
	auth.set("u1")
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn, UserID: "u1"})
	require.Equal(t, 1, backend.callCount("merge"))

	r.Local().Add(LocalEntry{ProductID: "p2", Quantity: 1})
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn})
	assert.Equal(t, 1, backend.callCount("merge"))

	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn, UserID: "u2"})
	assert.Equal(t, 2, backend.callCount("merge"))
}

func TestReconciler_UnknownUserMergesOncePerSignIn(t *testing.T) {
	ctx := context.Background()
	r, backend, auth := newReconciler(t)

	r.Local().Add(LocalEntry{ProductID: "p1", Quantity: 1})
	auth.set("u1")
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn})
	r.Local().Add(LocalEntry{ProductID: "p2", Quantity: 1})
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn})
	assert.Equal(t, 1, backend.callCount("merge"))

	auth.set("")
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedOut})
	auth.set("u1")
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn})
	assert.Equal(t, 2, backend.callCount("merge"))
}

func TestReconciler_EmptyLocalCartSkipsMerge(t *testing.T) {
	ctx := context.Background()
	r, backend, auth := newReconciler(t)

	auth.set("u1")
	r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedIn, UserID: "u1"})

	assert.Equal(t, 0, backend.callCount("merge"))
}

func TestReconciler_MergeFailure(t *testing.T) {
	tests := []struct {
		name      string
		opts      []ReconcilerOption
		wantLocal int
	}{
		{name: "clears local cart by default", wantLocal: 0},
		{name: "preserves local cart when configured", opts: []ReconcilerOption{WithPreserveLocalOnMergeFailure()}, wantLocal: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r, backend, auth := newReconciler(t, tt.opts...)
			backend.mergeErr = &apierr.Error{Kind: apierr.KindServer, Status: 500}

			r.Local().Add(LocalEntry{ProductID: "p1", Quantity: 1})
			auth.set("u1")
			err := r.MergeOnLogin(ctx)

			require.Error(t, err)
			assert.True(t, apierr.IsKind(err, apierr.KindServer))
			assert.Equal(t, tt.wantLocal, r.Local().Len())
			assert.Equal(t, 1, backend.callCount("merge"))
		})
	}
}

func TestReconciler_GuestCouponRejected(t *testing.T) {
	ctx := context.Background()
	r, backend, _ := newReconciler(t)

	err := r.ApplyCoupon(ctx, "SAVE10")
	var vErr *apierr.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, apierr.ReasonGuestCoupon, vErr.Reason("coupon"))
	assert.Empty(t, backend.calls)
}

func TestReconciler_CouponNormalized(t *testing.T) {
	ctx := context.Background()
	r, backend, auth := newReconciler(t)
	auth.set("u1")

	err := r.ApplyCoupon(ctx, "   ")
	var vErr *apierr.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, apierr.ReasonCouponRequired, vErr.Reason("coupon"))

	require.NoError(t, r.ApplyCoupon(ctx, " save10 "))
	u, err := r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", u.Server.CouponCode)

	require.NoError(t, r.RemoveCoupon(ctx))
	u, err = r.Unified(ctx)
	require.NoError(t, err)
	assert.Empty(t, u.Server.CouponCode)
	assert.Equal(t, 1, backend.callCount("uncoupon"))
}

func TestReconciler_ClearAfterOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("guest clears local cart", func(t *testing.T) {
		r, _, _ := newReconciler(t)
		r.Local().Add(LocalEntry{ProductID: "p1", Quantity: 1})
		require.NoError(t, r.ClearAfterOrder(ctx))
		assert.Equal(t, 0, r.Local().Len())
	})

	t.Run("signed-in drops server cache", func(t *testing.T) {
		r, backend, auth := newReconciler(t)
		auth.set("u1")
		_, err := r.Unified(ctx)
		require.NoError(t, err)

		require.NoError(t, r.ClearAfterOrder(ctx))
		_, err = r.Unified(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, backend.callCount("get"))
	})
}

// slowBackend blocks GetCart until released so an older response can land
// after a newer one.
type slowBackend struct {
	*fakeBackend
	release chan struct{}
	started chan struct{}
}

func (b *slowBackend) GetCart(ctx context.Context, sel Selection) (*ServerCart, error) {
	b.mu.Lock()
	stale := b.cart()
	b.mu.Unlock()
	close(b.started)
	<-b.release
	return stale, nil
}

func TestReconciler_StaleResponseDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	backend := &slowBackend{fakeBackend: &fakeBackend{}, release: make(chan struct{}), started: make(chan struct{})}
	auth := &fakeAuth{userID: "u1"}
	r := NewReconciler(newLocal(t, openStorage(t)), backend, auth)

	done := make(chan error, 1)
	go func() {
		_, err := r.Unified(ctx)
		done <- err
	}()
	<-backend.started

	require.NoError(t, r.Add(ctx, LocalEntry{ProductID: "p1", Quantity: 1}))
	close(backend.release)
	require.NoError(t, <-done)

	u, err := r.Unified(ctx)
	require.NoError(t, err)
	require.Len(t, u.Items, 1, "the empty cart fetched earlier must not replace the newer add")
}

// pricedBackend names every fetched cart after the address it was priced for
// and runs onGet while the fetch is in flight.
type pricedBackend struct {
	*fakeBackend
	onGet func(sel Selection)
}

func (b *pricedBackend) GetCart(ctx context.Context, sel Selection) (*ServerCart, error) {
	c, err := b.fakeBackend.GetCart(ctx, sel)
	if err != nil {
		return nil, err
	}
	c.CartID = "priced-for-" + sel.AddressID
	if b.onGet != nil {
		b.onGet(sel)
	}
	return c, nil
}

func TestReconciler_SelectionChangeDuringFetch(t *testing.T) {
	ctx := context.Background()
	backend := &pricedBackend{fakeBackend: &fakeBackend{}}
	auth := &fakeAuth{userID: "u1"}
	r := NewReconciler(newLocal(t, openStorage(t)), backend, auth)

	r.SelectAddress("A", "z")
	u, err := r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, "priced-for-A", u.Server.CartID)

	backend.onGet = func(sel Selection) {
		if sel.AddressID == "B" {
			r.SelectAddress("C", "z")
		}
	}
	r.SelectAddress("B", "z")

	u, err = r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, Selection{AddressID: "C", ZoneID: "z"}, r.Selection())
	require.NotNil(t, u.Server)
	assert.Equal(t, "priced-for-C", u.Server.CartID)
	assert.Equal(t, 3, backend.callCount("get"))
}

func TestReconciler_LogoutDuringFetchReturnsLocalCart(t *testing.T) {
	ctx := context.Background()
	backend := &pricedBackend{fakeBackend: &fakeBackend{}}
	auth := &fakeAuth{userID: "u1"}
	r := NewReconciler(newLocal(t, openStorage(t)), backend, auth)

	backend.onGet = func(Selection) {
		auth.set("")
		r.HandleSessionEvent(ctx, session.Event{Type: session.EventLoggedOut, UserID: "u1"})
	}

	u, err := r.Unified(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, u.Source)
	assert.Nil(t, u.Server)
}

func TestReconciler_SelectionNeverSettles(t *testing.T) {
	ctx := context.Background()
	backend := &pricedBackend{fakeBackend: &fakeBackend{}}
	auth := &fakeAuth{userID: "u1"}
	r := NewReconciler(newLocal(t, openStorage(t)), backend, auth)

	n := 0
	backend.onGet = func(Selection) {
		n++
		r.SelectAddress(fmt.Sprintf("addr-%d", n), "z")
	}

	_, err := r.Unified(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierr.ErrRaceDiscarded))
	assert.Equal(t, maxUnifiedFetches, backend.callCount("get"))
}
