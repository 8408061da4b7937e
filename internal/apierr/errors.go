// Package apierr defines the error taxonomy shared by every storefront component.
//
// Every failure that leaves the HTTP pipeline, the cart, the quote engine or the
// checkout engine is expressed as one of these kinds:
//
//   - network: no response was received
//   - timeout: the per-attempt deadline expired (treated as network for retries)
//   - auth: a 401 that a token refresh could not resolve
//   - validation: a client-side precondition failed before any request
//   - server: a 4xx/5xx response carrying a structured payload
//   - race_discarded: a response arrived after a newer request superseded it
//
// Callers never inspect raw transport errors; they call Normalize and branch on
// Kind, or call UserMessage to obtain a localized string for display.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind categorizes a normalized error.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindAuth          Kind = "auth"
	KindValidation    Kind = "validation"
	KindServer        Kind = "server"
	KindRaceDiscarded Kind = "race_discarded"
)

// Error is the normalized failure shape: { code?, message?, correlationId?, details? }
// plus the kind and HTTP status it was derived from.
type Error struct {
	Kind          Kind           `json:"kind"`
	Status        int            `json:"status,omitempty"`
	Code          string         `json:"code,omitempty"`
	Message       string         `json:"message,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Details       map[string]any `json:"details,omitempty"`

	// Err is the underlying cause, if any. Not serialized.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " %d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.CorrelationID != "" {
		fmt.Fprintf(&b, " (correlation=%s)", e.CorrelationID)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNetwork reports whether the error belongs to the network bucket
// (no response, including timeouts).
func (e *Error) IsNetwork() bool {
	return e.Kind == KindNetwork || e.Kind == KindTimeout
}

// ErrRaceDiscarded marks a result that was superseded by a newer request.
// It is never shown to the user.
var ErrRaceDiscarded = errors.New("response superseded by a newer request")

// Normalize maps any error to *Error. It returns nil for a nil error.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.toError()
	}

	if errors.Is(err, ErrRaceDiscarded) {
		return &Error{Kind: KindRaceDiscarded, Message: ErrRaceDiscarded.Error(), Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
	}

	return &Error{Kind: KindNetwork, Message: "no response from server", Err: err}
}

// IsKind reports whether err normalizes to the given kind.
func IsKind(err error, kind Kind) bool {
	n := Normalize(err)
	return n != nil && n.Kind == kind
}

// KindOf returns the normalized kind of err, or "" for nil.
func KindOf(err error) Kind {
	if n := Normalize(err); n != nil {
		return n.Kind
	}
	return ""
}
