// Package checkout submits orders.
//
// A Submitter drives one checkout attempt through its phases:
//
//	IDLE -> VALIDATING -> SUBMITTING -> SUCCEEDED
//	                                 -> FAILED -> VALIDATING (retry)
//
// Preconditions are checked before any request. The idempotency key is
// created once per attempt and sent unchanged with every retry until the order
// succeeds or the attempt is abandoned. A failed submission never clears the
// cart or touches loyalty points.
package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Mnabil10/fasketPWA-sub000/internal/orders"
	"github.com/Mnabil10/fasketPWA-sub000/internal/quote"
)

// Phase is the state of a checkout attempt.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseValidating Phase = "VALIDATING"
	PhaseSubmitting Phase = "SUBMITTING"
	PhaseSucceeded  Phase = "SUCCEEDED"
	PhaseFailed     Phase = "FAILED"
)

// PaymentMethod is how the shopper pays.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "COD"
	PaymentCard   PaymentMethod = "CARD"
	PaymentWallet PaymentMethod = "WALLET"
)

// DeliveryMode selects immediate or scheduled delivery.
type DeliveryMode string

const (
	ModeASAP      DeliveryMode = "ASAP"
	ModeScheduled DeliveryMode = "SCHEDULED"
)

// Item is a cart line. Guest orders send them; signed-in orders are built
// from the server cart and only need them for the emptiness check.
type Item = quote.Item

// Contact is the guest identity and free-text address.
type Contact struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Request is everything the checkout screen collected.
type Request struct {
	CartID string
	Items  []Item

	AcceptedTerms        bool
	RequiresWeightNotice bool
	AcceptedWeightNotice bool

	// Signed-in delivery target.
	AddressID string
	ZoneID    string

	// Guest delivery target.
	Contact Contact

	PaymentMethod PaymentMethod
	SavedMethodID string

	Mode             DeliveryMode
	DeliveryWindowID string
	ScheduledAt      *time.Time

	CouponCode    string
	LoyaltyPoints int
	Note          string
}

// OrderPayload is the signed-in order body.
type OrderPayload struct {
	CartID           string        `json:"cartId,omitempty"`
	AddressID        string        `json:"addressId"`
	ZoneID           string        `json:"zoneId"`
	PaymentMethod    PaymentMethod `json:"paymentMethod"`
	SavedMethodID    string        `json:"savedPaymentMethodId,omitempty"`
	DeliveryWindowID string        `json:"deliveryWindowId,omitempty"`
	ScheduledAt      *time.Time    `json:"scheduledAt,omitempty"`
	CouponCode       string        `json:"couponCode,omitempty"`
	LoyaltyPoints    int           `json:"loyaltyPointsToRedeem,omitempty"`
	Note             string        `json:"note,omitempty"`
	IdempotencyKey   string        `json:"idempotencyKey"`
}

// GuestOrderPayload is the guest order body.
type GuestOrderPayload struct {
	Items            []Item        `json:"items"`
	Name             string        `json:"name"`
	Phone            string        `json:"phone"`
	Address          string        `json:"address"`
	PaymentMethod    PaymentMethod `json:"paymentMethod"`
	DeliveryWindowID string        `json:"deliveryWindowId,omitempty"`
	ScheduledAt      *time.Time    `json:"scheduledAt,omitempty"`
	Note             string        `json:"note,omitempty"`
	IdempotencyKey   string        `json:"idempotencyKey"`
}

// Result is a placed order: exactly one of Group and Order is set.
type Result struct {
	Group *orders.GroupSummary `json:"group,omitempty"`
	Order *orders.OrderDetail  `json:"order,omitempty"`
}

// IsGroup reports whether the order was split across providers.
func (r *Result) IsGroup() bool {
	return r.Group != nil
}

// Ref returns the group id or the order id.
func (r *Result) Ref() string {
	if r.Group != nil {
		return r.Group.OrderGroupID
	}
	if r.Order != nil {
		return r.Order.ID
	}
	return ""
}

// Discriminate decodes an order response. A non-empty orderGroupId marks a
// multi-provider group; anything else is a single order.
func Discriminate(raw []byte) (*Result, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("order response is not valid JSON")
	}
	if gjson.GetBytes(raw, "orderGroupId").String() != "" {
		var g orders.GroupSummary
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("decode order group: %w", err)
		}
		return &Result{Group: &g}, nil
	}

	var o orders.OrderDetail
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if o.ID == "" {
		return nil, errors.New("order response carries neither orderGroupId nor id")
	}
	return &Result{Order: &o}, nil
}
