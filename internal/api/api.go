// Package api binds the storefront REST endpoints to the domain packages.
//
// Client implements cart.Backend, quote.Backend, checkout.Backend,
// orders.Backend and session.Refresher on top of one transport.Client, so the
// domain packages never see URLs or HTTP.
package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/Mnabil10/fasketPWA-sub000/internal/apierr"
	"github.com/Mnabil10/fasketPWA-sub000/internal/cart"
	"github.com/Mnabil10/fasketPWA-sub000/internal/checkout"
	"github.com/Mnabil10/fasketPWA-sub000/internal/orders"
	"github.com/Mnabil10/fasketPWA-sub000/internal/quote"
	"github.com/Mnabil10/fasketPWA-sub000/internal/session"
	"github.com/Mnabil10/fasketPWA-sub000/internal/transport"
)

// Endpoint paths, relative to the configured base URL.
const (
	PathLogin        = "/auth/login"
	PathRefresh      = "/auth/refresh"
	PathCart         = "/cart"
	PathCartItems    = "/cart/items"
	PathCartCoupon   = "/cart/coupon"
	PathCartMerge    = "/cart/merge"
	PathGuestQuote   = "/orders/guest/quote"
	PathOrders       = "/orders"
	PathGuestOrders  = "/orders/guest"
	PathOrderGroups  = "/orders/groups"
	pathCancelSuffix = "/cancel"
)

// Requester is the subset of *transport.Client the endpoints use.
type Requester interface {
	JSON(ctx context.Context, req transport.Request, out any) error
	Raw(ctx context.Context, req transport.Request) ([]byte, error)
}

// Client is the typed storefront API.
type Client struct {
	http Requester
}

var (
	_ cart.Backend      = (*Client)(nil)
	_ quote.Backend     = (*Client)(nil)
	_ checkout.Backend  = (*Client)(nil)
	_ orders.Backend    = (*Client)(nil)
	_ session.Refresher = (*Client)(nil)
)

// New wraps r.
func New(r Requester) *Client {
	return &Client{http: r}
}

// Credentials identify a shopper at login.
type Credentials struct {
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair. The user id is read from
// user.id or userId, whichever the payload carries.
func (c *Client) Login(ctx context.Context, creds Credentials) (session.Tokens, error) {
	raw, err := c.http.Raw(ctx, transport.Request{Method: http.MethodPost, Path: PathLogin, Body: creds})
	if err != nil {
		return session.Tokens{}, err
	}
	return decodeTokens(raw)
}

// RefreshTokens implements session.Refresher.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (session.Tokens, error) {
	raw, err := c.http.Raw(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathRefresh,
		Body:   map[string]string{"refreshToken": refreshToken},
	})
	if err != nil {
		return session.Tokens{}, err
	}
	return decodeTokens(raw)
}

func decodeTokens(raw []byte) (session.Tokens, error) {
	root := gjson.ParseBytes(raw)
	t := session.Tokens{
		AccessToken:  root.Get("accessToken").String(),
		RefreshToken: root.Get("refreshToken").String(),
		UserID:       root.Get("user.id").String(),
	}
	if t.UserID == "" {
		t.UserID = root.Get("userId").String()
	}
	if t.AccessToken == "" {
		return session.Tokens{}, &apierr.Error{Kind: apierr.KindServer, Status: http.StatusOK, Message: "token response without accessToken"}
	}
	return t, nil
}

// selectionQuery renders the address/zone selection as query parameters.
func selectionQuery(sel cart.Selection) url.Values {
	q := url.Values{}
	if sel.AddressID != "" {
		q.Set("addressId", sel.AddressID)
	}
	if sel.ZoneID != "" {
		q.Set("zoneId", sel.ZoneID)
	}
	return q
}
