package redirect

import (
	"context"
	"net/http"
	"net/url"
)

// Transport is an http.RoundTripper that rewrites matching request URLs
// before delegating to Base. The caller's request is never modified.
type Transport struct {
	Redirector *Redirector
	Base       http.RoundTripper
}

// NewTransport wraps base. A nil base uses http.DefaultTransport.
func NewTransport(r *Redirector, base http.RoundTripper) *Transport {
	return &Transport{Redirector: r, Base: base}
}

// Client returns an http.Client that sends every request through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Redirector == nil || req == nil || req.URL == nil {
		return t.base().RoundTrip(req)
	}

	res := t.Redirector.Rewrite(req.URL.String())
	if res.Outcome != Rewritten {
		return t.base().RoundTrip(req)
	}

	out, err := cloneRequest(req.Context(), req, res.URL)
	if err != nil {
		return t.base().RoundTrip(req)
	}
	return t.base().RoundTrip(out)
}

// cloneRequest copies req onto rawURL. Method, headers and body carry over.
// Host is reset so the new URL's authority is used.
func cloneRequest(ctx context.Context, req *http.Request, rawURL string) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	out := req.Clone(ctx)
	out.URL = u
	out.Host = ""
	return out, nil
}
