package redirect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request describes a request the way a page-level loader builds one before
// handing it to a fetch primitive.
type Request struct {
	URL         string
	Method      string
	Header      http.Header
	Body        io.Reader
	Credentials string
}

// clone returns a copy of req carrying u. The header map is copied so the
// two descriptors never share mutable state.
func (req *Request) clone(u string) *Request {
	out := *req
	out.URL = u
	if req.Header != nil {
		out.Header = req.Header.Clone()
	}
	return &out
}

// Descriptor is a caller-defined request shape that can be rebuilt around
// a new URL. WithURL must return a copy and leave the receiver unchanged.
type Descriptor interface {
	URL() string
	WithURL(u string) any
}

// RequestInit holds per-call overrides. It is forwarded untouched.
type RequestInit struct {
	Method string
	Header http.Header
	Body   io.Reader
}

// FetchFunc starts a request for input, which may be a URL string, a
// *url.URL, a *Request, an *http.Request or a Descriptor.
type FetchFunc func(ctx context.Context, input any, init *RequestInit) (*http.Response, error)

// WrapFetch returns a FetchFunc that rewrites the URL carried by input and
// then calls next with the original init. When input cannot be inspected,
// next receives it unmodified.
func (r *Redirector) WrapFetch(next FetchFunc) FetchFunc {
	return func(ctx context.Context, input any, init *RequestInit) (*http.Response, error) {
		return next(ctx, r.rewriteInput(ctx, input), init)
	}
}

func (r *Redirector) rewriteInput(ctx context.Context, input any) (out any) {
	out = input
	defer func() {
		if p := recover(); p != nil {
			out = input
		}
	}()

	res := r.RewriteValue(input)
	if res.Outcome != Rewritten {
		return input
	}

	switch in := input.(type) {
	case string:
		return res.URL
	case *Request:
		return in.clone(res.URL)
	case *http.Request:
		req, err := cloneRequest(ctx, in, res.URL)
		if err != nil {
			return input
		}
		return req
	case *url.URL:
		u, err := url.Parse(res.URL)
		if err != nil {
			return input
		}
		return u
	case Descriptor:
		return in.WithURL(res.URL)
	}
	// Getters that cannot be rebuilt are reduced to their URL.
	return res.URL
}

// HTTPFetch adapts client into a FetchFunc. A nil client uses
// http.DefaultClient.
func HTTPFetch(client *http.Client) FetchFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, input any, init *RequestInit) (*http.Response, error) {
		req, err := buildRequest(ctx, input, init)
		if err != nil {
			return nil, err
		}
		return client.Do(req)
	}
}

func buildRequest(ctx context.Context, input any, init *RequestInit) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	switch in := input.(type) {
	case *http.Request:
		if in == nil {
			return nil, fmt.Errorf("error building request: %w: nil %T", ErrUnsupportedInput, in)
		}
		req = in.Clone(ctx)
	case *Request:
		if in == nil {
			return nil, fmt.Errorf("error building request: %w: nil %T", ErrUnsupportedInput, in)
		}
		req, err = http.NewRequestWithContext(ctx, methodOr(in.Method), in.URL, in.Body)
		if err == nil && in.Header != nil {
			req.Header = in.Header.Clone()
		}
	default:
		var raw string
		raw, err = urlOf(input)
		if err == nil {
			req, err = http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}

	if init == nil {
		return req, nil
	}
	if init.Method != "" {
		req.Method = strings.ToUpper(init.Method)
	}
	for key, values := range init.Header {
		req.Header[key] = append([]string(nil), values...)
	}
	if init.Body != nil {
		rc, ok := init.Body.(io.ReadCloser)
		if !ok {
			rc = io.NopCloser(init.Body)
		}
		req.Body = rc
		req.ContentLength = -1
	}
	return req, nil
}

func methodOr(method string) string {
	if method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(method)
}
