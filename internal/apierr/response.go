package apierr

import (
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Correlation headers checked, in order, when the body carries no id.
var correlationHeaders = []string{"X-Correlation-Id", "X-Request-Id"}

// FromResponse builds a normalized error from a non-2xx response.
//
// The body is searched for the backend error payload
// { success:false, code?, message?, correlationId?, details? }. The message may
// be a string or an array of strings (validation pipes); arrays are joined.
// Non-JSON bodies keep only the status.
func FromResponse(status int, header http.Header, body []byte) *Error {
	e := &Error{Kind: KindServer, Status: status}
	if status == http.StatusUnauthorized {
		e.Kind = KindAuth
	}

	if gjson.ValidBytes(body) {
		root := gjson.ParseBytes(body)
		if root.IsObject() {
			e.Code = firstString(root, "code", "errorCode", "error.code")
			e.Message = messageOf(root)
			e.CorrelationID = firstString(root, "correlationId", "correlation_id", "requestId")
			if d := root.Get("details"); d.Exists() {
				e.Details = detailsOf(d)
			}
		}
	}

	if e.CorrelationID == "" && header != nil {
		for _, h := range correlationHeaders {
			if v := header.Get(h); v != "" {
				e.CorrelationID = v
				break
			}
		}
	}

	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

func messageOf(root gjson.Result) string {
	for _, p := range []string{"message", "error.message", "error"} {
		v := root.Get(p)
		switch {
		case !v.Exists():
			continue
		case v.IsArray():
			var parts []string
			for _, item := range v.Array() {
				if s := strings.TrimSpace(item.String()); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		case v.Type == gjson.String:
			return v.String()
		}
	}
	return ""
}

func detailsOf(d gjson.Result) map[string]any {
	switch {
	case d.IsObject():
		if m, ok := d.Value().(map[string]interface{}); ok {
			return m
		}
	case d.Type != gjson.Null:
		return map[string]any{"value": d.Value()}
	}
	return nil
}
