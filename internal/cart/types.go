// Package cart keeps the guest cart on the device and reconciles it with the
// server-authoritative cart once the shopper signs in.
//
// Both cart shapes converge on PreviewItem, so callers read a UnifiedCart
// without caring which source is active:
//
//	anonymous      LocalStore      Source = local, Server == nil
//	authenticated  server cache    Source = server, Server carries fees
//
// The Reconciler owns the transition between the two. On the first login of a
// user it sends the local lines to the merge endpoint exactly once and clears
// the local store.
package cart

import (
	"fmt"
	"sort"
	"strings"
)

// Option is one selected product option (size, cut, add-on).
type Option struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	PriceCents int64  `json:"priceCents,omitempty"`
}

// LocalEntry is one guest cart line. UnitPriceCents is the price seen when
// the line was added; the server reprices on merge.
type LocalEntry struct {
	ProductID      string   `json:"productId"`
	Name           string   `json:"name,omitempty"`
	Quantity       int      `json:"quantity"`
	UnitPriceCents int64    `json:"unitPriceSnapshot"`
	BranchID       string   `json:"branchId,omitempty"`
	Options        []Option `json:"optionSelections,omitempty"`
}

// Key returns the line key of the entry.
func (e LocalEntry) Key() string {
	return LineKey(e.ProductID, optionIDs(e.Options))
}

// PreviewItem is the shape both cart sources are rendered from.
type PreviewItem struct {
	Key            string   `json:"key,omitempty"`
	ItemID         string   `json:"id,omitempty"`
	ProductID      string   `json:"productId"`
	Name           string   `json:"name,omitempty"`
	Quantity       int      `json:"qty"`
	UnitPriceCents int64    `json:"unitPriceCents"`
	LineTotalCents int64    `json:"lineTotalCents"`
	BranchID       string   `json:"branchId,omitempty"`
	ProviderID     string   `json:"providerId,omitempty"`
	Options        []Option `json:"options,omitempty"`
}

// Ref returns the identifier mutations address the item by: the server item
// id when present, the local line key otherwise.
func (p PreviewItem) Ref() string {
	if p.ItemID != "" {
		return p.ItemID
	}
	return p.Key
}

// Group is one branch's slice of a server cart.
type Group struct {
	BranchID                 string        `json:"branchId"`
	ProviderID               string        `json:"providerId,omitempty"`
	Items                    []PreviewItem `json:"items"`
	SubtotalCents            int64         `json:"subtotalCents"`
	ShippingFeeCents         int64         `json:"shippingFeeCents"`
	DeliveryUnavailable      bool          `json:"deliveryUnavailable,omitempty"`
	DeliveryRequiresLocation bool          `json:"deliveryRequiresLocation,omitempty"`
}

// ServerCart is the authoritative cart of a signed-in shopper. CartID anchors
// idempotent checkout.
type ServerCart struct {
	CartID                  string        `json:"cartId"`
	Items                   []PreviewItem `json:"items"`
	Groups                  []Group       `json:"groups"`
	SubtotalCents           int64         `json:"subtotalCents"`
	ShippingFeeCents        int64         `json:"shippingFeeCents"`
	ServiceFeeCents         int64         `json:"serviceFeeCents"`
	DiscountCents           int64         `json:"discountCents"`
	LoyaltyDiscountCents    int64         `json:"loyaltyDiscountCents"`
	CouponCode              string        `json:"couponCode,omitempty"`
	DeliveryEstimateMinutes int           `json:"deliveryEstimateMinutes,omitempty"`
}

// TotalCents is the amount due as quoted by the server.
func (c *ServerCart) TotalCents() int64 {
	return c.SubtotalCents + c.ShippingFeeCents + c.ServiceFeeCents - c.DiscountCents - c.LoyaltyDiscountCents
}

// Validate fills Items from the groups when the payload only carries groups,
// then checks that every item belongs to exactly one group.
func (c *ServerCart) Validate() error {
	if len(c.Items) == 0 {
		for _, g := range c.Groups {
			c.Items = append(c.Items, g.Items...)
		}
	}
	if len(c.Groups) == 0 {
		if len(c.Items) > 0 {
			return fmt.Errorf("cart %s: %d items but no groups", c.CartID, len(c.Items))
		}
		return nil
	}

	owner := make(map[string]string, len(c.Items))
	for _, g := range c.Groups {
		for _, it := range g.Items {
			id := it.Ref()
			if prev, dup := owner[id]; dup {
				return fmt.Errorf("cart %s: item %s in groups %s and %s", c.CartID, id, prev, g.BranchID)
			}
			owner[id] = g.BranchID
		}
	}

	for _, it := range c.Items {
		if _, ok := owner[it.Ref()]; !ok {
			return fmt.Errorf("cart %s: item %s belongs to no group", c.CartID, it.Ref())
		}
	}
	if len(owner) != len(c.Items) {
		return fmt.Errorf("cart %s: groups list %d items, cart lists %d", c.CartID, len(owner), len(c.Items))
	}
	return nil
}

// Source says which cart a UnifiedCart was derived from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceServer Source = "server"
)

// UnifiedCart is what callers render. Server is set only for server carts.
type UnifiedCart struct {
	Source        Source        `json:"source"`
	Items         []PreviewItem `json:"items"`
	SubtotalCents int64         `json:"subtotalCents"`
	Server        *ServerCart   `json:"server,omitempty"`
}

// ItemCount is the total number of units in the cart.
func (u *UnifiedCart) ItemCount() int {
	n := 0
	for _, it := range u.Items {
		n += it.Quantity
	}
	return n
}

// IsEmpty reports whether the cart has no lines.
func (u *UnifiedCart) IsEmpty() bool {
	return len(u.Items) == 0
}

// LineKey identifies a local cart line: the product id alone, or the product
// id followed by the sorted option ids.
func LineKey(productID string, optionIDs []string) string {
	if len(optionIDs) == 0 {
		return productID
	}
	sorted := append([]string(nil), optionIDs...)
	sort.Strings(sorted)
	return productID + "::" + strings.Join(sorted, ",")
}

func optionIDs(opts []Option) []string {
	if len(opts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(opts))
	for _, o := range opts {
		ids = append(ids, o.ID)
	}
	return ids
}
