package middleware

import (
	"context"
	"log"
	"time"

	"github.com/joelguittet/go-axon/amp"
)

// Logging records the field count and handler duration for each inbound
// message. It captures the start time before calling next, and logs the
// elapsed time after next returns.
//
// Example output:
//
//	message: 2 field(s), duration: 42µs, replied: false
func Logging() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *amp.Message) *amp.Message {
			start := time.Now()

			rep := next(ctx, msg)

			duration := time.Since(start)
			log.Printf("message: %d field(s), duration: %s, replied: %t", msg.Len(), duration, rep != nil)
			return rep
		}
	}
}
