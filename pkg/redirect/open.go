package redirect

// OpenFunc opens a connection the way XMLHttpRequest.open does: a method, a
// URL, then optional async, user and password arguments.
type OpenFunc func(method, url string, rest ...any) error

// WrapOpen returns an OpenFunc that rewrites url before calling next.
// method and rest are forwarded in the same order and arity.
func (r *Redirector) WrapOpen(next OpenFunc) OpenFunc {
	return func(method, url string, rest ...any) error {
		return next(method, r.Rewrite(url).URL, rest...)
	}
}
