// internal/browser/context_utils.go
package browser

import "context"

// CombineContext creates a context derived from ctx1 that is canceled when
// either ctx1 or ctx2 is canceled. Values come from ctx1 only, which is where
// chromedp keeps the target connection; ctx2 carries the operation deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
