package middleware

import (
	"context"

	"github.com/joelguittet/go-axon/amp"
	"golang.org/x/time/rate"
)

// RateLimit bounds inbound dispatch using the token bucket algorithm.
//
// Token bucket: tokens are added at rate r per second, up to a burst
// size. Each message consumes one token. If the bucket is empty, the
// message is dropped without reaching the handler (short-circuit, no
// reply is produced).
//
// The limiter lives in the outer closure, once per middleware creation,
// NOT in the inner handler function: a per-message limiter would hand
// every message a fresh full bucket.
//
// Parameters:
//   - r: token refill rate (tokens per second)
//   - burst: maximum bucket size (allows this many messages in a burst)
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst) // Shared across all messages
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *amp.Message) *amp.Message {
			if !limiter.Allow() {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
