//go:build js && wasm

package main

import (
	"syscall/js"

	"github.com/andesco/archive-redirector/pkg/redirect"
)

// install replaces global.fetch and XMLHttpRequest.prototype.open with
// versions that rewrite local archive URLs. It also exposes the rewrite as
// global.archiveRedirector.rewrite for loaders that build URLs themselves.
func install(global js.Value, r *redirect.Redirector) {
	originalFetch := global.Get("fetch").Call("bind", global)
	global.Set("fetch", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		callArgs := toArgs(args)
		if len(args) > 0 {
			callArgs[0] = rewriteFetchInput(global, r, args[0])
		}
		return originalFetch.Invoke(callArgs...)
	}))

	proto := global.Get("XMLHttpRequest").Get("prototype")
	originalOpen := proto.Get("open")
	proto.Set("open", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		callArgs := toArgs(args)
		if len(args) > 1 {
			callArgs[1] = rewriteString(r, args[1])
		}
		return originalOpen.Call("call", append([]interface{}{this}, callArgs...)...)
	}))

	api := global.Get("Object").New()
	api.Set("rewrite", js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return js.Undefined()
		}
		return rewriteString(r, args[0])
	}))
	global.Set("archiveRedirector", api)
}

// rewriteFetchInput handles the two shapes fetch accepts: a URL string and
// a Request. Anything else, or any JS error while reading it, yields the
// input unchanged.
func rewriteFetchInput(global js.Value, r *redirect.Redirector, input js.Value) (out js.Value) {
	out = input
	defer func() {
		if p := recover(); p != nil {
			out = input
		}
	}()

	switch {
	case input.Type() == js.TypeString:
		return js.ValueOf(r.Rewrite(input.String()).URL)
	case input.Truthy() && input.Type() == js.TypeObject && input.Get("url").Type() == js.TypeString:
		res := r.Rewrite(input.Get("url").String())
		if res.Outcome != redirect.Rewritten {
			return input
		}
		return global.Get("Request").New(res.URL, input)
	}
	return input
}

func rewriteString(r *redirect.Redirector, v js.Value) (out js.Value) {
	out = v
	defer func() {
		if p := recover(); p != nil {
			out = v
		}
	}()

	if v.Type() != js.TypeString {
		return v
	}
	return js.ValueOf(r.Rewrite(v.String()).URL)
}

func toArgs(args []js.Value) []interface{} {
	out := make([]interface{}, len(args))
	for i, arg := range args {
		out[i] = arg
	}
	return out
}
