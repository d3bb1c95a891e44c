// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext creates a context derived from ctx1 (the session context,
// carrying the CDP target) that is canceled when either ctx1 or ctx2 (the
// operational context, carrying the deadline) is canceled. Values come from
// ctx1, which is what chromedp needs to route the operation.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext inherits values from its parent but ignores the parent's
// deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that keeps ctx's values (the CDP target) but is
// not canceled with it. Used for cleanup operations that must still reach
// the browser after the operation that triggered them was canceled.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
