// internal/browser/interceptor.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authtap/internal/capture"
)

// maxPendingRequests bounds the request id tables used to pair extra-info
// events with their request.
const maxPendingRequests = 2048

type pendingRequest struct {
	url    string
	method string
}

// NetworkInterceptor observes outgoing requests through the CDP network
// domain. It sees both the headers the page set and, through the extra-info
// event, the headers the browser actually sent.
type NetworkInterceptor struct {
	sink              *capture.Sink
	logger            *zap.Logger
	resetOnNavigation bool

	mu        sync.Mutex
	installed bool
	pending   map[network.RequestID]pendingRequest
	// early holds extra-info headers that arrived before their request.
	early map[network.RequestID]map[string]string
}

var _ capture.Interceptor = (*NetworkInterceptor)(nil)

// NewNetworkInterceptor creates an interceptor feeding sink. With
// resetOnNavigation set, a main-frame navigation clears the recorder.
func NewNetworkInterceptor(sink *capture.Sink, resetOnNavigation bool, logger *zap.Logger) *NetworkInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetworkInterceptor{
		sink:              sink,
		logger:            logger.Named("network_interceptor"),
		resetOnNavigation: resetOnNavigation,
		pending:           make(map[network.RequestID]pendingRequest),
		early:             make(map[network.RequestID]map[string]string),
	}
}

// ResetsOnNavigation reports whether a main-frame navigation clears the recorder.
func (n *NetworkInterceptor) ResetsOnNavigation() bool { return n.resetOnNavigation }

// Install enables the network domain and starts listening on the target in
// ctx, which must be a chromedp tab context. Repeated calls are no-ops.
func (n *NetworkInterceptor) Install(ctx context.Context) error {
	n.mu.Lock()
	if n.installed {
		n.mu.Unlock()
		n.logger.Debug("Network interceptor already installed.")
		return nil
	}
	n.installed = true
	n.mu.Unlock()

	chromedp.ListenTarget(ctx, n.handleEvent)

	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		n.mu.Lock()
		n.installed = false
		n.mu.Unlock()
		return fmt.Errorf("failed to enable network domain: %w", err)
	}

	n.logger.Debug("Network interceptor installed.")
	return nil
}

// handleEvent runs on chromedp's event goroutine and must not block.
func (n *NetworkInterceptor) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		req := pendingRequest{url: e.Request.URL, method: e.Request.Method}
		n.observe(req, capture.HeadersFromInterface(e.Request.Headers))
		// CDP does not order the two events; replay extra info seen first.
		if headers, ok := n.takeEarly(e.RequestID); ok {
			n.observe(req, headers)
			return
		}
		n.remember(e.RequestID, req)

	case *network.EventRequestWillBeSentExtraInfo:
		headers := capture.HeadersFromInterface(e.Headers)
		req, ok := n.take(e.RequestID)
		if !ok {
			n.rememberEarly(e.RequestID, headers)
			return
		}
		n.observe(req, headers)

	case *network.EventLoadingFinished:
		n.forget(e.RequestID)

	case *network.EventLoadingFailed:
		n.forget(e.RequestID)

	case *page.EventFrameNavigated:
		if n.resetOnNavigation {
			resetOnMainFrame(e, n.sink, n.logger)
		}
	}
}

// resetOnMainFrame clears the recorder when the top-level document changes.
// Child frame navigations leave it alone.
func resetOnMainFrame(e *page.EventFrameNavigated, sink *capture.Sink, logger *zap.Logger) {
	if e.Frame == nil || e.Frame.ParentID != "" {
		return
	}
	logger.Debug("Main frame navigated, resetting captured value.", zap.String("url", e.Frame.URL))
	sink.Recorder().Reset()
}

func (n *NetworkInterceptor) observe(req pendingRequest, headers map[string]string) {
	n.sink.ObserveRequest(capture.RequestInfo{
		URL:     req.url,
		Method:  req.method,
		Source:  capture.SourceNetwork,
		Headers: headers,
	})
}

func (n *NetworkInterceptor) remember(id network.RequestID, req pendingRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pending) >= maxPendingRequests {
		n.pending = make(map[network.RequestID]pendingRequest)
	}
	n.pending[id] = req
}

func (n *NetworkInterceptor) take(id network.RequestID) (pendingRequest, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	req, ok := n.pending[id]
	delete(n.pending, id)
	return req, ok
}

func (n *NetworkInterceptor) rememberEarly(id network.RequestID, headers map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.early) >= maxPendingRequests {
		n.early = make(map[network.RequestID]map[string]string)
	}
	n.early[id] = headers
}

func (n *NetworkInterceptor) takeEarly(id network.RequestID) (map[string]string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	headers, ok := n.early[id]
	delete(n.early, id)
	return headers, ok
}

func (n *NetworkInterceptor) forget(id network.RequestID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.pending, id)
	delete(n.early, id)
}
