// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session represents an active browser tab.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu       sync.Mutex
	isClosed bool
}

// NewSession opens a new tab under an allocator (or browser) context and
// waits until the target is attached.
func NewSession(allocCtx context.Context, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := uuid.New().String()
	sessionLogger := logger.Named("session").With(zap.String("session_id", sessionID))

	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sessionLogger.Sugar().Debugf),
		chromedp.WithErrorf(sessionLogger.Sugar().Debugf),
	)

	// The first Run starts the browser and attaches the target.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser tab: %w", err)
	}

	sessionLogger.Debug("Browser session opened.")
	return &Session{
		id:     sessionID,
		ctx:    ctx,
		cancel: cancel,
		logger: sessionLogger,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Context returns the chromedp context of the tab. Listeners registered on it
// live until the session is closed.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Run executes actions bounded by both the session lifetime and ctx.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url in the tab and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.Run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the URL of the main frame.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.Run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current location: %w", err)
	}
	return url, nil
}

// Cookies returns every cookie the browser holds for the current page.
func (s *Session) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := s.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies via CDP: %w", err)
	}
	return cookies, nil
}

// Close cancels the tab context. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
