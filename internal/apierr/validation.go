package apierr

import (
	"fmt"
	"strings"
)

// Validation codes raised before any request is made. They double as message
// catalog keys (see messages.go).
const (
	CodeValidationFailed = "VALIDATION_FAILED"

	ReasonCartEmpty          = "cart_empty"
	ReasonTermsRequired      = "terms_required"
	ReasonWeightNotice       = "weight_notice_required"
	ReasonAddressRequired    = "address_required"
	ReasonZoneRequired       = "zone_required"
	ReasonNameRequired       = "name_required"
	ReasonPhoneRequired      = "phone_required"
	ReasonPhoneInvalid       = "phone_invalid"
	ReasonPaymentRequired    = "payment_required"
	ReasonSavedMethodMissing = "saved_method_required"
	ReasonSlotRequired       = "slot_required"
	ReasonOffline            = "offline"
	ReasonGuestCoupon        = "coupon_requires_login"
	ReasonCouponRequired     = "coupon_required"
)

// FieldError is a single failed precondition, addressed to an input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError collects failed client-side preconditions. It is raised and
// displayed immediately and never reaches the network layer.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError creates a ValidationError with a single field failure.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Reason: reason}}}
}

// Add records a failed field.
func (v *ValidationError) Add(field, reason string) {
	v.Fields = append(v.Fields, FieldError{Field: field, Reason: reason})
}

// Reason returns the reason recorded for field, or "".
func (v *ValidationError) Reason(field string) string {
	for _, f := range v.Fields {
		if f.Field == field {
			return f.Reason
		}
	}
	return ""
}

// Err returns v as an error, or nil when no field failed.
func (v *ValidationError) Err() error {
	if v == nil || len(v.Fields) == 0 {
		return nil
	}
	return v
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Reason))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v *ValidationError) toError() *Error {
	details := make(map[string]any, len(v.Fields))
	for _, f := range v.Fields {
		details[f.Field] = f.Reason
	}
	msg := ""
	if len(v.Fields) > 0 {
		msg = v.Fields[0].Reason
	}
	return &Error{
		Kind:    KindValidation,
		Code:    CodeValidationFailed,
		Message: msg,
		Details: details,
		Err:     v,
	}
}
