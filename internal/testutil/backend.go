package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/Mnabil10/fasketPWA-sub000/internal/cart"
	"github.com/Mnabil10/fasketPWA-sub000/internal/orders"
	"github.com/Mnabil10/fasketPWA-sub000/internal/quote"
)

// BasePath is the API prefix the fake backend serves under.
const BasePath = "/api/v1"

// Password is the only password the fake backend accepts.
const Password = "secret"

// Product is a catalog entry of the fake backend.
type Product struct {
	ID         string
	Name       string
	PriceCents int64
	ProviderID string
	BranchID   string
}

// Fixed fees charged by the fake backend.
const (
	ShippingFeeCents = 1000
	ServiceFeeCents  = 500
)

type line struct {
	id        string
	productID string
	qty       int
}

type userCart struct {
	id     string
	lines  []line
	coupon string
}

// FakeBackend is an in-memory storefront API for tests. It serves the
// endpoints the api package calls, wraps payloads in the success envelope and
// deduplicates orders by idempotency key.
type FakeBackend struct {
	mu sync.Mutex

	products map[string]Product
	access   map[string]string // access token -> user id
	refresh  map[string]string // refresh token -> user id
	carts    map[string]*userCart
	groups   map[string]*orders.GroupSummary
	single   map[string]*orders.OrderDetail
	byKey    map[string][]byte
	hits     map[string]int
	seq      int

	fail     func(route string) (status int, code string)
}

// FailWith installs fn to fail requests. fn sees the route as
// "METHOD /path" without the base path and returns a status and error code;
// a zero status passes the request through. A nil fn clears the hook.
func (b *FakeBackend) FailWith(fn func(route string) (status int, code string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = fn
}

// NewFakeBackend creates a backend selling products.
func NewFakeBackend(products ...Product) *FakeBackend {
	b := &FakeBackend{
		products: make(map[string]Product),
		access:   make(map[string]string),
		refresh:  make(map[string]string),
		carts:    make(map[string]*userCart),
		groups:   make(map[string]*orders.GroupSummary),
		single:   make(map[string]*orders.OrderDetail),
		byKey:    make(map[string][]byte),
		hits:     make(map[string]int),
	}
	for _, p := range products {
		b.products[p.ID] = p
	}
	return b
}

// Start serves b on a test server closed at test cleanup and returns its base URL.
func (b *FakeBackend) Start(t interface{ Cleanup(func()) }) string {
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return srv.URL + BasePath
}

// Hits returns how often route ("METHOD /path") was called.
func (b *FakeBackend) Hits(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[route]
}

// ExpireAccessTokens invalidates every issued access token; refresh tokens
// stay valid.
func (b *FakeBackend) ExpireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access = make(map[string]string)
}

// SetSubOrderStatus moves the sub-order of provider in group to status.
func (b *FakeBackend) SetSubOrderStatus(groupID, providerID string, status orders.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok := b.groups[groupID]; ok {
		for i := range g.Orders {
			if g.Orders[i].ProviderID == providerID {
				g.Orders[i].Status = status
			}
		}
	}
}

// Handler returns the HTTP handler.
func (b *FakeBackend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+BasePath+"/auth/login", b.login)
	mux.HandleFunc("POST "+BasePath+"/auth/refresh", b.refreshTokens)
	mux.HandleFunc("GET "+BasePath+"/cart", b.authed(b.getCart))
	mux.HandleFunc("POST "+BasePath+"/cart/items", b.authed(b.addItem))
	mux.HandleFunc("PATCH "+BasePath+"/cart/items/{id}", b.authed(b.updateItem))
	mux.HandleFunc("DELETE "+BasePath+"/cart/items/{id}", b.authed(b.removeItem))
	mux.HandleFunc("POST "+BasePath+"/cart/coupon", b.authed(b.applyCoupon))
	mux.HandleFunc("DELETE "+BasePath+"/cart/coupon", b.authed(b.removeCoupon))
	mux.HandleFunc("POST "+BasePath+"/cart/merge", b.authed(b.merge))
	mux.HandleFunc("POST "+BasePath+"/orders/guest/quote", b.guestQuote)
	mux.HandleFunc("POST "+BasePath+"/orders/guest", b.placeGuest)
	mux.HandleFunc("POST "+BasePath+"/orders", b.authed(b.placeOrder))
	mux.HandleFunc("GET "+BasePath+"/orders/groups/{id}", b.authed(b.getGroup))
	mux.HandleFunc("POST "+BasePath+"/orders/groups/{id}/cancel", b.authed(b.cancelGroup))
	mux.HandleFunc("GET "+BasePath+"/orders/{id}", b.authed(b.getOrder))
	mux.HandleFunc("POST "+BasePath+"/orders/{id}/cancel", b.authed(b.cancelOrder))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + strings.TrimPrefix(r.URL.Path, BasePath)
		b.mu.Lock()
		b.hits[route]++
		fail := b.fail
		b.mu.Unlock()
		if fail != nil {
			if status, code := fail(route); status != 0 {
				writeError(w, status, code)
				return
			}
		}
		mux.ServeHTTP(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (b *FakeBackend) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		userID, ok := b.access[token]
		b.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED")
			return
		}
		h(w, r, userID)
	}
}

func (b *FakeBackend) issue(userID string) map[string]any {
	b.seq++
	access := fmt.Sprintf("access-%d", b.seq)
	refresh := fmt.Sprintf("refresh-%d", b.seq)
	b.access[access] = userID
	b.refresh[refresh] = userID
	return map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"user":         map[string]string{"id": userID},
	}
}

func (b *FakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Phone    string `json:"phone"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	login := body.Phone + body.Email
	if login == "" || body.Password != Password {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	writeData(w, http.StatusOK, b.issue("user-"+login))
}

func (b *FakeBackend) refreshTokens(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	userID, ok := b.refresh[body.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "REFRESH_INVALID")
		return
	}
	delete(b.refresh, body.RefreshToken)
	writeData(w, http.StatusOK, b.issue(userID))
}

func (b *FakeBackend) cartOf(userID string) *userCart {
	c, ok := b.carts[userID]
	if !ok {
		b.seq++
		c = &userCart{id: fmt.Sprintf("cart-%d", b.seq)}
		b.carts[userID] = c
	}
	return c
}

// render must be called with b.mu held.
func (b *FakeBackend) render(c *userCart) cart.ServerCart {
	byBranch := map[string]*cart.Group{}
	var branches []string
	sc := cart.ServerCart{CartID: c.id, CouponCode: c.coupon, Items: []cart.PreviewItem{}, Groups: []cart.Group{}}
	for _, l := range c.lines {
		p := b.products[l.productID]
		item := cart.PreviewItem{
			ItemID:         l.id,
			ProductID:      p.ID,
			Name:           p.Name,
			Quantity:       l.qty,
			UnitPriceCents: p.PriceCents,
			LineTotalCents: p.PriceCents * int64(l.qty),
			BranchID:       p.BranchID,
			ProviderID:     p.ProviderID,
		}
		g, ok := byBranch[p.BranchID]
		if !ok {
			g = &cart.Group{BranchID: p.BranchID, ProviderID: p.ProviderID, ShippingFeeCents: ShippingFeeCents}
			byBranch[p.BranchID] = g
			branches = append(branches, p.BranchID)
		}
		g.Items = append(g.Items, item)
		g.SubtotalCents += item.LineTotalCents
		sc.Items = append(sc.Items, item)
		sc.SubtotalCents += item.LineTotalCents
	}
	for _, id := range branches {
		sc.Groups = append(sc.Groups, *byBranch[id])
		sc.ShippingFeeCents += ShippingFeeCents
	}
	if len(c.lines) > 0 {
		sc.ServiceFeeCents = ServiceFeeCents
	}
	if c.coupon != "" {
		sc.DiscountCents = sc.SubtotalCents / 10
	}
	return sc
}

func (b *FakeBackend) addLine(c *userCart, productID string, qty int) bool {
	if _, ok := b.products[productID]; !ok || qty <= 0 {
		return false
	}
	for i := range c.lines {
		if c.lines[i].productID == productID {
			c.lines[i].qty += qty
			return true
		}
	}
	b.seq++
	c.lines = append(c.lines, line{id: fmt.Sprintf("item-%d", b.seq), productID: productID, qty: qty})
	return true
}

func (b *FakeBackend) getCart(w http.ResponseWriter, _ *http.Request, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeData(w, http.StatusOK, b.render(b.cartOf(userID)))
}

func (b *FakeBackend) addItem(w http.ResponseWriter, r *http.Request, userID string) {
	var body cart.AddItemRequest
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cartOf(userID)
	if !b.addLine(c, body.ProductID, body.Quantity) {
		writeError(w, http.StatusUnprocessableEntity, "PRODUCT_UNAVAILABLE")
		return
	}
	writeData(w, http.StatusOK, b.render(c))
}

func (b *FakeBackend) updateItem(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		Qty int `json:"qty"`
	}
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cartOf(userID)
	for i := range c.lines {
		if c.lines[i].id == r.PathValue("id") {
			c.lines[i].qty = body.Qty
		}
	}
	writeData(w, http.StatusOK, b.render(c))
}

func (b *FakeBackend) removeItem(w http.ResponseWriter, r *http.Request, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cartOf(userID)
	kept := c.lines[:0]
	for _, l := range c.lines {
		if l.id != r.PathValue("id") {
			kept = append(kept, l)
		}
	}
	c.lines = kept
	writeData(w, http.StatusOK, b.render(c))
}

func (b *FakeBackend) applyCoupon(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		CouponCode string `json:"couponCode"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.CouponCode != "SAVE10" {
		writeError(w, http.StatusUnprocessableEntity, "COUPON_INVALID")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cartOf(userID)
	c.coupon = body.CouponCode
	writeData(w, http.StatusOK, b.render(c))
}

func (b *FakeBackend) removeCoupon(w http.ResponseWriter, _ *http.Request, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cartOf(userID)
	c.coupon = ""
	writeData(w, http.StatusOK, b.render(c))
}

func (b *FakeBackend) merge(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		Items []struct {
			ProductID string `json:"productId"`
			Qty       int    `json:"qty"`
		} `json:"items"`
	}
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cartOf(userID)
	for _, it := range body.Items {
		b.addLine(c, it.ProductID, it.Qty)
	}
	writeData(w, http.StatusOK, b.render(c))
}

func (b *FakeBackend) guestQuote(w http.ResponseWriter, r *http.Request) {
	var req quote.Request
	if !decode(w, r, &req) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	q := quote.Quote{Groups: []quote.GroupQuote{}, SkippedBranchIDs: []string{}}
	byBranch := map[string]int{}
	for _, it := range req.Items {
		p, ok := b.products[it.ProductID]
		if !ok {
			continue
		}
		idx, seen := byBranch[p.BranchID]
		if !seen {
			idx = len(q.Groups)
			byBranch[p.BranchID] = idx
			q.Groups = append(q.Groups, quote.GroupQuote{BranchID: p.BranchID, ProviderID: p.ProviderID, ShippingFeeCents: ShippingFeeCents})
			q.ShippingFeeCents += ShippingFeeCents
		}
		sub := p.PriceCents * int64(it.Quantity)
		q.Groups[idx].SubtotalCents += sub
		q.SubtotalCents += sub
	}
	if len(q.Groups) > 0 {
		q.ServiceFeeCents = ServiceFeeCents
	}
	writeData(w, http.StatusOK, q)
}

// place must be called with b.mu held. It builds a group when the lines span
// several providers and a single order otherwise.
func (b *FakeBackend) place(lines []line) any {
	byProvider := map[string]int64{}
	for _, l := range lines {
		p := b.products[l.productID]
		byProvider[p.ProviderID] += p.PriceCents * int64(l.qty)
	}
	providers := make([]string, 0, len(byProvider))
	for id := range byProvider {
		providers = append(providers, id)
	}
	sort.Strings(providers)

	b.seq++
	if len(providers) == 1 {
		o := &orders.OrderDetail{
			ID:               fmt.Sprintf("order-%d", b.seq),
			Code:             fmt.Sprintf("FSK-%d", b.seq),
			ProviderID:       providers[0],
			Status:           orders.StatusPending,
			SubtotalCents:    byProvider[providers[0]],
			ShippingFeeCents: ShippingFeeCents,
			TotalCents:       byProvider[providers[0]] + ShippingFeeCents,
		}
		b.single[o.ID] = o
		return o
	}

	g := &orders.GroupSummary{
		OrderGroupID: fmt.Sprintf("group-%d", b.seq),
		Code:         fmt.Sprintf("FSK-%d", b.seq),
		Status:       orders.StatusPending,
	}
	for i, id := range providers {
		total := byProvider[id] + ShippingFeeCents
		g.Orders = append(g.Orders, orders.SubOrder{
			ID:         fmt.Sprintf("%s-%d", g.OrderGroupID, i+1),
			ProviderID: id,
			Status:     orders.StatusPending,
			TotalCents: total,
		})
		g.TotalCents += total
	}
	b.groups[g.OrderGroupID] = g
	return g
}

// placeOnce returns the stored response for a known idempotency key.
// Must be called with b.mu held.
func (b *FakeBackend) placeOnce(key string, build func() (any, bool)) ([]byte, bool) {
	if raw, ok := b.byKey[key]; ok {
		return raw, true
	}
	v, ok := build()
	if !ok {
		return nil, false
	}
	raw, _ := json.Marshal(v)
	if key != "" {
		b.byKey[key] = raw
	}
	return raw, true
}

func (b *FakeBackend) placeOrder(w http.ResponseWriter, r *http.Request, userID string) {
	var body struct {
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.placeOnce(body.IdempotencyKey, func() (any, bool) {
		c := b.cartOf(userID)
		if len(c.lines) == 0 {
			return nil, false
		}
		v := b.place(c.lines)
		c.lines = nil
		c.coupon = ""
		return v, true
	})
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "CART_EMPTY")
		return
	}
	writeRawData(w, http.StatusCreated, raw)
}

func (b *FakeBackend) placeGuest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items          []quote.Item `json:"items"`
		IdempotencyKey string       `json:"idempotencyKey"`
	}
	if !decode(w, r, &body) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.placeOnce(body.IdempotencyKey, func() (any, bool) {
		var lines []line
		for _, it := range body.Items {
			if _, known := b.products[it.ProductID]; known && it.Quantity > 0 {
				lines = append(lines, line{productID: it.ProductID, qty: it.Quantity})
			}
		}
		if len(lines) == 0 {
			return nil, false
		}
		return b.place(lines), true
	})
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "CART_EMPTY")
		return
	}
	writeRawData(w, http.StatusCreated, raw)
}

func (b *FakeBackend) getGroup(w http.ResponseWriter, r *http.Request, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND")
		return
	}
	writeData(w, http.StatusOK, g)
}

func (b *FakeBackend) cancelGroup(w http.ResponseWriter, r *http.Request, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND")
		return
	}
	resp := orders.CancelResponse{CancelledProviders: []string{}, BlockedProviders: []string{}}
	for i := range g.Orders {
		if g.Orders[i].Status.Cancelable() {
			g.Orders[i].Status = orders.StatusCanceled
			resp.CancelledProviders = append(resp.CancelledProviders, g.Orders[i].ProviderID)
		} else {
			resp.BlockedProviders = append(resp.BlockedProviders, g.Orders[i].ProviderID)
		}
	}
	if len(resp.BlockedProviders) == 0 {
		g.Status = orders.StatusCanceled
	}
	writeData(w, http.StatusOK, resp)
}

func (b *FakeBackend) getOrder(w http.ResponseWriter, r *http.Request, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.single[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND")
		return
	}
	writeData(w, http.StatusOK, o)
}

func (b *FakeBackend) cancelOrder(w http.ResponseWriter, r *http.Request, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.single[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND")
		return
	}
	if !o.Status.Cancelable() {
		writeError(w, http.StatusConflict, "ORDER_NOT_CANCELABLE")
		return
	}
	o.Status = orders.StatusCanceled
	writeData(w, http.StatusOK, o)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST")
		return false
	}
	return true
}

func writeData(w http.ResponseWriter, status int, v any) {
	raw, _ := json.Marshal(v)
	writeRawData(w, status, raw)
}

func writeRawData(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":true,"data":%s}`, raw)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Correlation-Id", "corr-"+strings.ToLower(code))
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"code":    code,
		"message": strings.ToLower(strings.ReplaceAll(code, "_", " ")),
	})
}
