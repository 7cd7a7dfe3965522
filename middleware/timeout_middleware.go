package middleware

import (
	"context"
	"time"

	"github.com/joelguittet/go-axon/amp"
)

// Timeout enforces a maximum duration for each message handler. If the
// handler doesn't complete within the timeout, the message is treated as
// unanswered and nil is returned.
//
// Implementation:
//  1. Create a context with timeout (ctx.Done() fires when it expires)
//  2. Run the next handler in a goroutine, sending its result to a channel
//  3. Select between the result channel and ctx.Done()
//
// Note: the handler goroutine is NOT cancelled — it continues running in
// the background. The timeout only controls when the dispatcher gives up
// waiting. For true cancellation, the handler must check ctx.Done()
// internally.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg *amp.Message) *amp.Message {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *amp.Message, 1) // Buffered: no goroutine leak if the timeout fires
			go func() {
				done <- next(ctx, msg)
			}()

			select {
			case rep := <-done:
				return rep
			case <-ctx.Done():
				return nil
			}
		}
	}
}
