package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Mnabil10/fasketPWA-sub000/internal/cart"
	"github.com/Mnabil10/fasketPWA-sub000/internal/transport"
)

func (c *Client) cartCall(ctx context.Context, method, path string, sel cart.Selection, body any) (*cart.ServerCart, error) {
	var out cart.ServerCart
	err := c.http.JSON(ctx, transport.Request{
		Method: method,
		Path:   path,
		Query:  selectionQuery(sel),
		Body:   body,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCart fetches the server cart priced for sel.
func (c *Client) GetCart(ctx context.Context, sel cart.Selection) (*cart.ServerCart, error) {
	return c.cartCall(ctx, http.MethodGet, PathCart, sel, nil)
}

// AddItem adds a line to the server cart.
func (c *Client) AddItem(ctx context.Context, sel cart.Selection, req cart.AddItemRequest) (*cart.ServerCart, error) {
	return c.cartCall(ctx, http.MethodPost, PathCartItems, sel, req)
}

// UpdateItem sets the quantity of a server cart item.
func (c *Client) UpdateItem(ctx context.Context, sel cart.Selection, itemID string, qty int) (*cart.ServerCart, error) {
	return c.cartCall(ctx, http.MethodPatch, PathCartItems+"/"+url.PathEscape(itemID), sel, map[string]int{"qty": qty})
}

// RemoveItem deletes a server cart item.
func (c *Client) RemoveItem(ctx context.Context, sel cart.Selection, itemID string) (*cart.ServerCart, error) {
	return c.cartCall(ctx, http.MethodDelete, PathCartItems+"/"+url.PathEscape(itemID), sel, nil)
}

// ApplyCoupon applies a coupon code.
func (c *Client) ApplyCoupon(ctx context.Context, sel cart.Selection, code string) (*cart.ServerCart, error) {
	return c.cartCall(ctx, http.MethodPost, PathCartCoupon, sel, map[string]string{"couponCode": code})
}

// RemoveCoupon removes the applied coupon.
func (c *Client) RemoveCoupon(ctx context.Context, sel cart.Selection) (*cart.ServerCart, error) {
	return c.cartCall(ctx, http.MethodDelete, PathCartCoupon, sel, nil)
}

type mergeLine struct {
	ProductID         string   `json:"productId"`
	Quantity          int      `json:"qty"`
	BranchID          string   `json:"branchId,omitempty"`
	OptionIDs         []string `json:"optionIds,omitempty"`
	UnitPriceSnapshot int64    `json:"unitPriceSnapshot,omitempty"`
}

// MergeCart sends the guest cart lines to be merged into the server cart.
func (c *Client) MergeCart(ctx context.Context, sel cart.Selection, entries []cart.LocalEntry) (*cart.ServerCart, error) {
	lines := make([]mergeLine, 0, len(entries))
	for _, e := range entries {
		var opts []string
		for _, o := range e.Options {
			opts = append(opts, o.ID)
		}
		lines = append(lines, mergeLine{
			ProductID:         e.ProductID,
			Quantity:          e.Quantity,
			BranchID:          e.BranchID,
			OptionIDs:         opts,
			UnitPriceSnapshot: e.UnitPriceCents,
		})
	}
	return c.cartCall(ctx, http.MethodPost, PathCartMerge, sel, map[string]any{"items": lines})
}
