package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Mnabil10/fasketPWA-sub000/internal/checkout"
	"github.com/Mnabil10/fasketPWA-sub000/internal/orders"
	"github.com/Mnabil10/fasketPWA-sub000/internal/quote"
	"github.com/Mnabil10/fasketPWA-sub000/internal/transport"
)

// idempotencyHeader carries the checkout key next to the body field.
const idempotencyHeader = "Idempotency-Key"

// GuestQuote requests a delivery quote for a guest cart.
func (c *Client) GuestQuote(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	var out quote.Quote
	if err := c.http.JSON(ctx, transport.Request{Method: http.MethodPost, Path: PathGuestQuote, Body: req}, &out); err != nil {
		return nil, err
	}
	if out.SkippedBranchIDs == nil {
		out.SkippedBranchIDs = []string{}
	}
	return &out, nil
}

// PlaceOrder submits a signed-in order.
func (c *Client) PlaceOrder(ctx context.Context, p checkout.OrderPayload) ([]byte, error) {
	return c.http.Raw(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathOrders,
		Body:   p,
		Header: http.Header{idempotencyHeader: []string{p.IdempotencyKey}},
	})
}

// PlaceGuestOrder submits a guest order.
func (c *Client) PlaceGuestOrder(ctx context.Context, p checkout.GuestOrderPayload) ([]byte, error) {
	return c.http.Raw(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathGuestOrders,
		Body:   p,
		Header: http.Header{idempotencyHeader: []string{p.IdempotencyKey}},
	})
}

// GetGroup fetches an order group.
func (c *Client) GetGroup(ctx context.Context, groupID string) (*orders.GroupSummary, error) {
	var out orders.GroupSummary
	if err := c.http.JSON(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   PathOrderGroups + "/" + url.PathEscape(groupID),
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelGroup asks the server to cancel every provider of a group.
func (c *Client) CancelGroup(ctx context.Context, groupID, reason string) (*orders.CancelResponse, error) {
	var out orders.CancelResponse
	if err := c.http.JSON(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathOrderGroups + "/" + url.PathEscape(groupID) + pathCancelSuffix,
		Body:   cancelBody(reason),
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches a single order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*orders.OrderDetail, error) {
	var out orders.OrderDetail
	if err := c.http.JSON(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   PathOrders + "/" + url.PathEscape(orderID),
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels a single order.
func (c *Client) CancelOrder(ctx context.Context, orderID, reason string) error {
	return c.http.JSON(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   PathOrders + "/" + url.PathEscape(orderID) + pathCancelSuffix,
		Body:   cancelBody(reason),
	}, nil)
}

func cancelBody(reason string) map[string]string {
	if reason == "" {
		return map[string]string{}
	}
	return map[string]string{"reason": reason}
}
