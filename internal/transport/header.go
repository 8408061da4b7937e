package transport

import (
	"net/http"

	"golang.org/x/text/language"
)

// headerTransport stamps locale and content negotiation headers on every
// request. GET requests also carry the language as a lang query parameter,
// unless the caller already set one.
type headerTransport struct {
	next           http.RoundTripper
	acceptLanguage string
	lang           string
}

func newHeaderTransport(next http.RoundTripper, locale string) *headerTransport {
	tag := language.Make(locale)
	base, _ := tag.Base()
	return &headerTransport{
		next:           next,
		acceptLanguage: tag.String(),
		lang:           base.String(),
	}
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())

	if r.Header.Get("Accept-Language") == "" {
		r.Header.Set("Accept-Language", t.acceptLanguage)
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json")
	}
	if r.Body != nil && r.Body != http.NoBody && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		if q.Get("lang") == "" {
			q.Set("lang", t.lang)
			r.URL.RawQuery = q.Encode()
		}
	}

	return t.next.RoundTrip(r)
}
