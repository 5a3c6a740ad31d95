// Package redirect rewrites local development archive URLs to their CDN
// location before a request reaches the network.
//
// The rewrite is fail-open: an input the Redirector cannot inspect is passed
// on untouched and the request is never dropped.
package redirect

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/andesco/archive-redirector/pkg/ruleset"
)

// Outcome reports what a rewrite attempt did.
type Outcome int

const (
	// Unchanged means no rule matched.
	Unchanged Outcome = iota
	// Rewritten means at least one rule matched.
	Rewritten
	// Failed means the input could not be inspected; the original is used.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Rewritten:
		return "rewritten"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ErrUnsupportedInput is reported for inputs that carry no readable URL.
var ErrUnsupportedInput = errors.New("unsupported request input")

// Result is the outcome of a single rewrite. URL always holds the value the
// caller should use.
type Result struct {
	URL      string
	Original string
	Outcome  Outcome
	Err      error
}

// Observer receives every Result. It must not block.
type Observer func(Result)

// Option configures a Redirector.
type Option func(*Redirector)

// WithObserver installs fn to be called after each rewrite attempt.
func WithObserver(fn Observer) Option {
	return func(r *Redirector) {
		r.observer = fn
	}
}

// Redirector applies an immutable rule set. It is safe for concurrent use.
type Redirector struct {
	rules    ruleset.RuleSet
	observer Observer
}

// New returns a Redirector for rules. A nil rule set uses ruleset.Default.
func New(rules ruleset.RuleSet, opts ...Option) *Redirector {
	if rules == nil {
		rules = ruleset.Default()
	}
	r := &Redirector{rules: append(ruleset.RuleSet(nil), rules...)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rules returns a copy of the rules in application order.
func (r *Redirector) Rules() ruleset.RuleSet {
	return append(ruleset.RuleSet(nil), r.rules...)
}

// Rewrite applies each rule in order, replacing the first occurrence of its
// pattern. It never panics.
func (r *Redirector) Rewrite(raw string) (res Result) {
	res = Result{URL: raw, Original: raw, Outcome: Unchanged}
	defer func() {
		if p := recover(); p != nil {
			res = Result{URL: raw, Original: raw, Outcome: Failed, Err: fmt.Errorf("rewrite panicked: %v", p)}
		}
		r.notify(res)
	}()

	u := raw
	for _, rule := range r.rules {
		u = strings.Replace(u, rule.Match, rule.Replace, 1)
	}
	if u != raw {
		res.URL = u
		res.Outcome = Rewritten
	}
	return res
}

// RewriteValue extracts the URL carried by v and rewrites it. Inputs with
// no readable URL yield a Failed result with an empty URL.
func (r *Redirector) RewriteValue(v any) Result {
	raw, err := urlOf(v)
	if err != nil {
		res := Result{Outcome: Failed, Err: err}
		r.notify(res)
		return res
	}
	return r.Rewrite(raw)
}

func (r *Redirector) notify(res Result) {
	if r.observer == nil {
		return
	}
	defer func() { _ = recover() }()
	r.observer(res)
}

type urlGetter interface {
	URL() string
}

func urlOf(v any) (raw string, err error) {
	defer func() {
		if p := recover(); p != nil {
			raw, err = "", fmt.Errorf("%w: %v", ErrUnsupportedInput, p)
		}
	}()

	switch in := v.(type) {
	case string:
		return in, nil
	case *url.URL:
		if in == nil {
			break
		}
		return in.String(), nil
	case *http.Request:
		if in == nil || in.URL == nil {
			break
		}
		return in.URL.String(), nil
	case *Request:
		if in == nil {
			break
		}
		return in.URL, nil
	case urlGetter:
		return in.URL(), nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedInput, v)
}
