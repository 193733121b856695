// internal/browser/hook.go
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authtap/internal/capture"
)

// hookBindingName must match the function hook.js calls.
const hookBindingName = "__authtapReport"

//go:embed hook.js
var hookScript string

var errInvalidHookPayload = errors.New("invalid hook payload")

// PageHook observes requests from inside the page by wrapping fetch and
// XMLHttpRequest.prototype.setRequestHeader. Matching headers are reported
// through a runtime binding. The wrapped functions always forward to the
// originals with the same arguments.
type PageHook struct {
	sink              *capture.Sink
	logger            *zap.Logger
	resetOnNavigation bool

	mu        sync.Mutex
	installed bool
}

var _ capture.Interceptor = (*PageHook)(nil)

// NewPageHook creates a hook feeding sink. With resetOnNavigation set, a
// main-frame navigation clears the recorder.
func NewPageHook(sink *capture.Sink, resetOnNavigation bool, logger *zap.Logger) *PageHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageHook{
		sink:              sink,
		logger:            logger.Named("page_hook"),
		resetOnNavigation: resetOnNavigation,
	}
}

// ResetsOnNavigation reports whether a main-frame navigation clears the recorder.
func (h *PageHook) ResetsOnNavigation() bool { return h.resetOnNavigation }

// Install exposes the binding, registers the hook for every new document and
// runs it in the current one. ctx must be a chromedp tab context. Repeated
// calls are no-ops; the script itself is guarded against double wrapping.
func (h *PageHook) Install(ctx context.Context) error {
	h.mu.Lock()
	if h.installed {
		h.mu.Unlock()
		h.logger.Debug("Page hook already installed.")
		return nil
	}
	h.installed = true
	h.mu.Unlock()

	chromedp.ListenTarget(ctx, h.handleEvent)

	err := chromedp.Run(ctx,
		runtime.AddBinding(hookBindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hookScript).Do(ctx)
			return err
		}),
		chromedp.Evaluate(hookScript, nil),
	)
	if err != nil {
		h.mu.Lock()
		h.installed = false
		h.mu.Unlock()
		return fmt.Errorf("failed to install page hook: %w", err)
	}

	h.logger.Debug("Page hook installed.")
	return nil
}

// handleEvent runs on chromedp's event goroutine and must not block.
func (h *PageHook) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name == hookBindingName {
			h.handlePayload(e.Payload)
		}
	case *page.EventFrameNavigated:
		if h.resetOnNavigation {
			resetOnMainFrame(e, h.sink, h.logger)
		}
	}
}

func (h *PageHook) handlePayload(payload string) {
	info, err := parseHookPayload(payload)
	if err != nil {
		h.logger.Warn("Dropping malformed hook payload.", zap.Error(err))
		return
	}
	h.sink.ObserveRequest(info)
}

// parseHookPayload decodes the JSON document hook.js sends:
// {"kind": "fetch"|"xhr", "url": "...", "method": "...", "headers": {...}}.
func parseHookPayload(payload string) (capture.RequestInfo, error) {
	if !gjson.Valid(payload) {
		return capture.RequestInfo{}, fmt.Errorf("%w: not JSON", errInvalidHookPayload)
	}
	doc := gjson.Parse(payload)

	var source capture.Source
	switch kind := doc.Get("kind").String(); kind {
	case "fetch":
		source = capture.SourceHookFetch
	case "xhr":
		source = capture.SourceHookXHR
	default:
		return capture.RequestInfo{}, fmt.Errorf("%w: unknown kind %q", errInvalidHookPayload, kind)
	}

	headers := make(map[string]string)
	doc.Get("headers").ForEach(func(key, value gjson.Result) bool {
		headers[key.String()] = value.String()
		return true
	})

	return capture.RequestInfo{
		URL:     doc.Get("url").String(),
		Method:  doc.Get("method").String(),
		Source:  source,
		Headers: headers,
	}, nil
}
