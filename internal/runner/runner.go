// File: internal/runner/runner.go
// Description: Drives one capture or cookie export run. Browser access and the
// observer sources are injected so the workflow can be exercised without Chrome.

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/authtap/internal/artifact"
	"github.com/xkilldash9x/authtap/internal/browser"
	"github.com/xkilldash9x/authtap/internal/browser/stealth"
	"github.com/xkilldash9x/authtap/internal/capture"
	"github.com/xkilldash9x/authtap/internal/config"
	"github.com/xkilldash9x/authtap/internal/metrics"
	"github.com/xkilldash9x/authtap/internal/observability"
)

// verifyTimeout bounds the optional token verification request.
const verifyTimeout = 30 * time.Second

// Tab is the browser surface a run drives. *browser.Session implements it.
type Tab interface {
	ID() string
	// Context is the chromedp tab context interceptors listen on.
	Context() context.Context
	Run(ctx context.Context, actions ...chromedp.Action) error
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	Close() error
}

// TabOpener starts a browser tab. The returned func releases the tab and the
// browser behind it.
type TabOpener func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (Tab, func(), error)

// InterceptorFactory builds the observer sources for a tab.
type InterceptorFactory func(tab Tab, sink *capture.Sink, cfg config.CaptureConfig, logger *zap.Logger) ([]capture.Interceptor, error)

// Result describes a successful capture.
type Result struct {
	RunID         string
	Observation   capture.Observation
	Checks        int
	Elapsed       time.Duration
	PageURL       string
	TokenFile     string
	TokenInfoFile string
	CookieFile    string
	CookieCount   int
	RequestsLog   string
	// VerifyStatus is the HTTP status of the verification request, or 0 when
	// none was made or it failed before a response.
	VerifyStatus int
}

// CookieResult describes a cookie export.
type CookieResult struct {
	RunID string
	File  string
	Count int
}

// Runner owns the capture workflow.
type Runner struct {
	cfg             config.Interface
	logger          *zap.Logger
	metrics         *metrics.Metrics
	openTab         TabOpener
	newInterceptors InterceptorFactory
	sleep           capture.SleepFunc
	now             func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithTabOpener replaces the Chrome launcher.
func WithTabOpener(fn TabOpener) Option { return func(r *Runner) { r.openTab = fn } }

// WithInterceptors replaces the observer source factory.
func WithInterceptors(fn InterceptorFactory) Option {
	return func(r *Runner) { r.newInterceptors = fn }
}

// WithSleep replaces the poll wait.
func WithSleep(fn capture.SleepFunc) Option { return func(r *Runner) { r.sleep = fn } }

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option { return func(r *Runner) { r.now = fn } }

// WithMetrics records into m instead of a fresh registry.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// New creates a Runner.
func New(cfg config.Interface, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize runner with nil dependencies")
	}
	r := &Runner{
		cfg:             cfg,
		logger:          logger.Named("runner"),
		openTab:         OpenChromeTab,
		newInterceptors: DefaultInterceptors,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	return r, nil
}

// Metrics returns the collectors the runner records into.
func (r *Runner) Metrics() *metrics.Metrics { return r.metrics }

// OpenChromeTab launches Chrome with the configured options and opens a tab.
func OpenChromeTab(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (Tab, func(), error) {
	allocCtx, allocCancel := browser.NewAllocator(ctx, cfg)
	sess, err := browser.NewSession(allocCtx, logger)
	if err != nil {
		allocCancel()
		return nil, nil, err
	}
	return sess, func() {
		_ = sess.Close()
		allocCancel()
	}, nil
}

// DefaultInterceptors builds the CDP network observer, the in-page hook, or
// both, depending on the capture mode. When both are installed only the
// network observer resets on navigation.
func DefaultInterceptors(tab Tab, sink *capture.Sink, cfg config.CaptureConfig, logger *zap.Logger) ([]capture.Interceptor, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", config.ModeNetwork:
		return []capture.Interceptor{
			browser.NewNetworkInterceptor(sink, cfg.ResetOnNavigation, logger),
		}, nil
	case config.ModeHook:
		return []capture.Interceptor{
			browser.NewPageHook(sink, cfg.ResetOnNavigation, logger),
		}, nil
	case config.ModeBoth:
		return []capture.Interceptor{
			browser.NewNetworkInterceptor(sink, cfg.ResetOnNavigation, logger),
			browser.NewPageHook(sink, false, logger),
		}, nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q", cfg.Mode)
	}
}

// Capture opens a tab, installs the observers, navigates to the target and
// polls until an authorization header is seen or the check budget runs out.
// On success the token and its sidecar files are written.
func (r *Runner) Capture(ctx context.Context) (*Result, error) {
	runID := uuid.New().String()
	logger := r.logger.With(zap.String("run_id", runID))
	cc := r.cfg.Capture()
	start := r.now()

	res, checks, err := r.capture(ctx, runID, cc, logger)

	outcome := metrics.OutcomeCaptured
	switch {
	case err == nil:
	case errors.Is(err, capture.ErrNotFound):
		outcome = metrics.OutcomeNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeCanceled
	default:
		outcome = metrics.OutcomeError
	}
	r.metrics.ObserveCapture(outcome, checks, r.now().Sub(start))
	r.flushMetrics(logger)

	if err != nil {
		logger.Error("Capture failed.", zap.String("outcome", outcome), zap.Error(err))
		return nil, err
	}
	return res, nil
}

func (r *Runner) capture(ctx context.Context, runID string, cc config.CaptureConfig, logger *zap.Logger) (*Result, int, error) {
	if cc.TargetURL == "" {
		return nil, 0, fmt.Errorf("no target URL configured")
	}
	policy, err := capture.ParsePolicy(cc.Policy)
	if err != nil {
		return nil, 0, err
	}

	rec := capture.NewRecorder(policy)
	sink := capture.NewSink(rec, cc.URLFilter, logger)
	sink.OnObserve = func(info capture.RequestInfo, _ bool) {
		r.metrics.ObserveRequest(string(info.Source))
	}

	ac := r.cfg.Artifacts()
	var reqLog *artifact.RequestLog
	if ac.RequestsLog != "" {
		reqLog = artifact.NewRequestLog(0)
		sink.OnRequest = reqLog.ObserveRequest
	}

	tab, release, err := r.openTab(ctx, r.cfg.Browser(), logger)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open browser tab: %w", err)
	}
	defer release()
	logger = logger.With(zap.String("session_id", tab.ID()))

	if reqLog != nil {
		// Written on every outcome; the log matters most when nothing was captured.
		defer r.writeRequestLog(ctx, tab, runID, rec, reqLog, ac, logger)
	}

	if err := r.prepareTab(ctx, tab, logger); err != nil {
		return nil, 0, err
	}

	interceptors, err := r.newInterceptors(tab, sink, cc, logger)
	if err != nil {
		return nil, 0, err
	}
	for _, ic := range interceptors {
		if err := ic.Install(tab.Context()); err != nil {
			return nil, 0, fmt.Errorf("failed to install request observer: %w", err)
		}
	}

	logger.Info("Waiting for an authorization header.",
		zap.String("target", cc.TargetURL),
		zap.String("mode", cc.Mode),
		zap.String("policy", policy.String()),
		zap.Duration("interval", cc.PollInterval),
		zap.Int("max_attempts", cc.MaxAttempts),
	)

	poller := capture.NewPoller(rec)
	if r.sleep != nil {
		poller.WithSleep(r.sleep)
	}
	poller.OnCheck = func(attempt int, found bool) {
		if !found {
			logger.Debug("No authorization header yet.", zap.Int("check", attempt), zap.Int("of", cc.MaxAttempts))
		}
	}

	urls := append([]string{cc.TargetURL}, cc.TriggerURLs...)

	var pollRes capture.PollResult
	g, gctx := errgroup.WithContext(ctx)
	navCtx, stopNav := context.WithCancel(gctx)
	defer stopNav()

	g.Go(func() error {
		r.navigate(navCtx, tab, rec, urls, cc, logger)
		return nil
	})
	g.Go(func() error {
		// Polling decides the outcome; navigation stops once it is over.
		defer stopNav()
		var err error
		pollRes, err = poller.Poll(gctx, cc.PollInterval, cc.MaxAttempts)
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, capture.ErrNotFound) {
			return nil, pollRes.Attempts, fmt.Errorf("no authorization header observed: %w", err)
		}
		return nil, pollRes.Attempts, err
	}

	obs, _ := rec.Observation()
	logger.Info("Authorization header captured.",
		observability.Secret("token", obs.Token),
		zap.String("source", string(obs.Source)),
		zap.Int("checks", pollRes.Attempts),
	)

	result := &Result{
		RunID:       runID,
		Observation: obs,
		Checks:      pollRes.Attempts,
		Elapsed:     pollRes.Elapsed,
	}
	if pageURL, err := tab.CurrentURL(ctx); err != nil {
		logger.Debug("Could not read the page location.", zap.Error(err))
	} else {
		result.PageURL = pageURL
	}

	if cc.VerifyURL != "" {
		var observer capture.Observer = capture.ObserverFunc(func(info capture.RequestInfo) {
			r.metrics.ObserveRequest(string(info.Source))
		})
		if reqLog != nil {
			observer = capture.ObserverFunc(func(info capture.RequestInfo) {
				r.metrics.ObserveRequest(string(info.Source))
				reqLog.ObserveRequest(info)
			})
		}
		result.VerifyStatus = r.verify(ctx, cc.VerifyURL, obs.Token, observer, logger)
	}

	if err := r.writeArtifacts(ctx, tab, result, logger); err != nil {
		return nil, pollRes.Attempts, err
	}
	if reqLog != nil {
		result.RequestsLog = ac.RequestsLog
	}
	return result, pollRes.Attempts, nil
}

// verify requests verifyURL with the captured token through the observing
// transport. A failure or non-2xx status is reported, never fatal: the token
// has already been captured.
func (r *Runner) verify(ctx context.Context, verifyURL, token string, observer capture.Observer, logger *zap.Logger) int {
	base := http.DefaultTransport.(*http.Transport).Clone()
	defer base.CloseIdleConnections()
	client := &http.Client{Transport: capture.NewTransport(base, observer)}

	reqCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, verifyURL, nil)
	if err != nil {
		logger.Warn("Could not build verification request.", zap.Error(err))
		return 0
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("Token verification request failed.", zap.String("url", verifyURL), zap.Error(err))
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("Token was rejected by the verification endpoint.",
			zap.String("url", verifyURL), zap.Int("status", resp.StatusCode))
	} else {
		logger.Info("Token verified.", zap.String("url", verifyURL), zap.Int("status", resp.StatusCode))
	}
	return resp.StatusCode
}

// writeRequestLog saves every request observed during the run together with
// the page location and the cookie names. Failures are logged.
func (r *Runner) writeRequestLog(ctx context.Context, tab Tab, runID string, rec *capture.Recorder, reqLog *artifact.RequestLog, ac config.ArtifactsConfig, logger *zap.Logger) {
	var obs *capture.Observation
	if o, ok := rec.Observation(); ok {
		obs = &o
	}
	pageURL, err := tab.CurrentURL(ctx)
	if err != nil {
		logger.Debug("Could not read the page location.", zap.Error(err))
	}
	var cookies []artifact.Cookie
	if raw, err := tab.Cookies(ctx); err != nil {
		logger.Debug("Could not read cookies for the request log.", zap.Error(err))
	} else {
		cookies = artifact.ExportCookies(raw, ac.CookieDomain)
	}

	doc := reqLog.Document(runID, pageURL, obs, cookies)
	if err := artifact.WriteRequestLog(ac.RequestsLog, doc); err != nil {
		logger.Warn("Could not write the request log.", zap.Error(err))
		return
	}
	logger.Info("Request log saved.", zap.Int("requests", len(doc.Requests)), zap.String("path", ac.RequestsLog))
}

// prepareTab applies the stealth persona before anything is loaded.
func (r *Runner) prepareTab(ctx context.Context, tab Tab, logger *zap.Logger) error {
	persona := stealth.FromConfig(r.cfg.Browser().Persona)
	if err := tab.Run(ctx, stealth.Apply(persona, logger.Named("stealth"))); err != nil {
		return fmt.Errorf("failed to apply browser persona: %w", err)
	}
	return nil
}

// navigate visits each URL in turn. Failures are logged and do not stop the
// poll, since a page often issues its API calls before a load timeout fires.
func (r *Runner) navigate(ctx context.Context, tab Tab, rec *capture.Recorder, urls []string, cc config.CaptureConfig, logger *zap.Logger) {
	for i, u := range urls {
		if ctx.Err() != nil {
			return
		}

		navCtx, cancel := ctx, context.CancelFunc(func() {})
		if cc.NavigationTimeout > 0 {
			navCtx, cancel = context.WithTimeout(ctx, cc.NavigationTimeout)
		}
		err := tab.Navigate(navCtx, u)
		cancel()
		if err != nil && ctx.Err() == nil {
			logger.Warn("Navigation failed, still polling.", zap.String("url", u), zap.Error(err))
		}

		if i == len(urls)-1 || cc.PostLoadWait <= 0 {
			continue
		}
		// Give the page time to issue its own requests before moving on.
		timer := time.NewTimer(cc.PostLoadWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-rec.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Runner) writeArtifacts(ctx context.Context, tab Tab, result *Result, logger *zap.Logger) error {
	ac := r.cfg.Artifacts()

	if ac.TokenFile != "" {
		if err := artifact.WriteToken(ac.TokenFile, result.Observation.Token); err != nil {
			return err
		}
		result.TokenFile = ac.TokenFile
		logger.Info("Token saved.", zap.String("path", ac.TokenFile))
	}

	if ac.TokenInfoFile != "" {
		info := artifact.NewTokenInfo(result.Observation)
		for _, w := range info.Warnings {
			logger.Warn("Token inspection.", zap.String("warning", w))
		}
		if err := artifact.WriteTokenInfo(ac.TokenInfoFile, info); err != nil {
			return err
		}
		result.TokenInfoFile = ac.TokenInfoFile
	}

	if ac.CookieFile != "" {
		n, err := r.exportCookies(ctx, tab, ac, logger)
		if err != nil {
			return err
		}
		result.CookieFile = ac.CookieFile
		result.CookieCount = n
	}
	return nil
}

func (r *Runner) exportCookies(ctx context.Context, tab Tab, ac config.ArtifactsConfig, logger *zap.Logger) (int, error) {
	raw, err := tab.Cookies(ctx)
	if err != nil {
		return 0, err
	}
	records := artifact.ExportCookies(raw, ac.CookieDomain)
	if err := artifact.WriteCookies(ac.CookieFile, records); err != nil {
		return 0, err
	}
	logger.Info("Cookies saved.",
		zap.Int("count", len(records)),
		zap.String("domain", ac.CookieDomain),
		zap.String("path", ac.CookieFile),
	)
	return len(records), nil
}

// Cookies opens the target, waits for the page to settle and exports the
// session cookies.
func (r *Runner) Cookies(ctx context.Context) (*CookieResult, error) {
	runID := uuid.New().String()
	logger := r.logger.With(zap.String("run_id", runID))
	cc := r.cfg.Capture()
	ac := r.cfg.Artifacts()

	if cc.TargetURL == "" {
		return nil, fmt.Errorf("no target URL configured")
	}
	if ac.CookieFile == "" {
		return nil, fmt.Errorf("no cookie output file configured")
	}

	tab, release, err := r.openTab(ctx, r.cfg.Browser(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}
	defer release()

	if err := r.prepareTab(ctx, tab, logger); err != nil {
		return nil, err
	}

	navCtx, cancel := ctx, context.CancelFunc(func() {})
	if cc.NavigationTimeout > 0 {
		navCtx, cancel = context.WithTimeout(ctx, cc.NavigationTimeout)
	}
	err = tab.Navigate(navCtx, cc.TargetURL)
	cancel()
	if err != nil {
		return nil, err
	}

	if cc.PostLoadWait > 0 {
		wait := r.sleep
		if wait == nil {
			wait = capture.SleepContext
		}
		if err := wait(ctx, cc.PostLoadWait); err != nil {
			return nil, err
		}
	}

	n, err := r.exportCookies(ctx, tab, ac, logger)
	if err != nil {
		return nil, err
	}
	return &CookieResult{RunID: runID, File: ac.CookieFile, Count: n}, nil
}

func (r *Runner) flushMetrics(logger *zap.Logger) {
	mc := r.cfg.Metrics()
	if !mc.Enabled || mc.Textfile == "" {
		return
	}
	if err := r.metrics.WriteTextfile(mc.Textfile); err != nil {
		logger.Warn("Could not write metrics.", zap.Error(err))
	}
}
