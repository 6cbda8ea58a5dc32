// Package mid contains the set of middleware functions.
package mid

import (
	"context"
	"net/http"
	"strings"

	"github.com/ardanlabs/chainnode/foundation/web"
)

// corsHeaders are the request headers browsers may send to the node.
const corsHeaders = "Origin, Accept, Content-Type, Content-Length, Accept-Encoding"

// Cors sets the headers a browser needs to call the node from another
// origin. Only the listed methods are allowed, GET and OPTIONS when none
// are given since the public API is read only.
func Cors(origin string, methods ...string) web.Middleware {
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodOptions}
	}
	allowed := strings.Join(methods, ", ")

	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", allowed)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			w.Header().Set("Access-Control-Max-Age", "86400")

			return handler(ctx, w, r)
		}

		return h
	}

	return m
}
