// Package orders represents placed orders and drives their cancellation.
//
// A checkout that spans several providers produces an order group: one
// sub-order per provider, each with its own status. Statuses only ever change
// on the server; after every cancellation the group is fetched again instead
// of being edited locally.
package orders

// Status is a sub-order lifecycle status.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPreparing      Status = "PREPARING"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusCanceled       Status = "CANCELED"
)

// Cancelable reports whether a sub-order in this status may still be
// canceled. Every later status is locked.
func (s Status) Cancelable() bool {
	return s == StatusPending || s == StatusConfirmed
}

// SubOrder is one provider's part of an order group.
type SubOrder struct {
	ID           string `json:"id"`
	Code         string `json:"code,omitempty"`
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName,omitempty"`
	Status       Status `json:"status"`
	TotalCents   int64  `json:"totalCents"`
}

// GroupSummary is a multi-provider order.
type GroupSummary struct {
	OrderGroupID string     `json:"orderGroupId"`
	Code         string     `json:"code,omitempty"`
	Status       Status     `json:"status"`
	TotalCents   int64      `json:"totalCents"`
	Orders       []SubOrder `json:"orders"`
}

// OrderDetail is a single-provider order.
type OrderDetail struct {
	ID                    string `json:"id"`
	Code                  string `json:"code,omitempty"`
	ProviderID            string `json:"providerId,omitempty"`
	Status                Status `json:"status"`
	SubtotalCents         int64  `json:"subtotalCents"`
	ShippingFeeCents      int64  `json:"shippingFeeCents"`
	DiscountCents         int64  `json:"discountCents"`
	TotalCents            int64  `json:"totalCents"`
	LoyaltyPointsRedeemed int    `json:"loyaltyPointsRedeemed,omitempty"`
}

// ProviderEligibility is the cancel view of one sub-order.
type ProviderEligibility struct {
	OrderID    string `json:"orderId"`
	ProviderID string `json:"providerId"`
	Status     Status `json:"status"`
	Cancelable bool   `json:"cancelable"`
}

// Eligibility lists each sub-order of g with whether it can still be canceled.
func Eligibility(g *GroupSummary) []ProviderEligibility {
	if g == nil {
		return nil
	}
	out := make([]ProviderEligibility, 0, len(g.Orders))
	for _, o := range g.Orders {
		out = append(out, ProviderEligibility{
			OrderID:    o.ID,
			ProviderID: o.ProviderID,
			Status:     o.Status,
			Cancelable: o.Status.Cancelable(),
		})
	}
	return out
}

// AnyCancelable reports whether at least one sub-order can be canceled.
func (g *GroupSummary) AnyCancelable() bool {
	for _, o := range g.Orders {
		if o.Status.Cancelable() {
			return true
		}
	}
	return false
}

// CancelResponse is what the server reports for a group cancellation.
type CancelResponse struct {
	CancelledProviders []string `json:"cancelledProviders"`
	BlockedProviders   []string `json:"blockedProviders"`
}

// OutcomeKind distinguishes full, partial and failed cancellations.
type OutcomeKind string

const (
	OutcomeFull    OutcomeKind = "full"
	OutcomePartial OutcomeKind = "partial"
	OutcomeNone    OutcomeKind = "none"
)

// CancelOutcome is the result of CancelGroup. Group is the state fetched
// after the cancellation; it is nil when that fetch failed.
type CancelOutcome struct {
	Kind      OutcomeKind   `json:"kind"`
	Cancelled []string      `json:"cancelledProviders"`
	Blocked   []string      `json:"blockedProviders"`
	Group     *GroupSummary `json:"group,omitempty"`
}

// Classify turns a cancel response into an outcome kind. A partial
// cancellation is a valid result, not an error.
func Classify(resp CancelResponse) OutcomeKind {
	switch {
	case len(resp.CancelledProviders) == 0:
		return OutcomeNone
	case len(resp.BlockedProviders) == 0:
		return OutcomeFull
	default:
		return OutcomePartial
	}
}
