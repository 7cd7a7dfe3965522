// Package middleware implements the onion model middleware chain wrapped
// around an endpoint's inbound message dispatch.
//
// Middleware wraps the message handler to add cross-cutting concerns
// (logging, rate limiting, bounding handler duration) without modifying
// the handler itself.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Inbound:  A.before → B.before → C.before → handler
//	Outbound: handler → C.after → B.after → A.after
//
// Each middleware can:
//   - Do pre-processing (before calling next)
//   - Call next(ctx, msg) to pass to the next layer
//   - Do post-processing (after next returns)
//   - Short-circuit by returning early without calling next (e.g. rate
//     limiting drops the message by returning nil)
package middleware

import (
	"context"

	"github.com/joelguittet/go-axon/amp"
)

// HandlerFunc is the function signature for inbound message handlers.
// The returned message is the reply (meaningful for REP endpoints); nil
// means no reply. Both the endpoint's handler and middleware-wrapped
// handlers share this signature.
type HandlerFunc func(ctx context.Context, msg *amp.Message) *amp.Message

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into a single middleware.
// It builds the chain from right to left so that the first middleware in
// the list is the outermost layer (executed first on the way in, last on
// the way out).
//
// Example:
//
//	chain := Chain(Logging(), Timeout(time.Second))
//	handler := chain(dispatch)
//	// Execution: Logging → Timeout → dispatch → Timeout → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
