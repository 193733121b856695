// internal/browser/session_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authtap/internal/capture"
	"github.com/xkilldash9x/authtap/internal/config"
)

// chromeCandidates are the executables tried when AUTHTAP_TEST_CHROME is unset.
var chromeCandidates = []string{
	"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "chrome",
}

func findChrome() string {
	if p := os.Getenv("AUTHTAP_TEST_CHROME"); p != "" {
		return p
	}
	for _, name := range chromeCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// setupBrowserSession starts a headless Chrome and opens one tab, skipping the
// test when no browser is installed.
func setupBrowserSession(t *testing.T) (*Session, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping browser test in short mode.")
	}
	execPath := findChrome()
	if execPath == "" {
		t.Skip("Chrome not found in PATH, skipping browser test.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	allocCtx, allocCancel := NewAllocator(ctx, config.BrowserConfig{
		Headless:   true,
		DisableGPU: true,
		ExecPath:   execPath,
	})
	sess, err := NewSession(allocCtx, zap.NewNop())
	if err != nil {
		allocCancel()
		cancel()
		t.Fatalf("failed to start Chrome at %s: %v", execPath, err)
	}
	t.Cleanup(func() {
		_ = sess.Close()
		allocCancel()
		cancel()
	})
	return sess, ctx
}

// authServer serves a blank page and JSON endpoints that record the
// Authorization header they receive.
type authServer struct {
	*httptest.Server

	mu   sync.Mutex
	seen map[string][]string
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	s := &authServer{seen: make(map[string][]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>authtap</h1></body></html>`)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.seen[r.URL.Path] = append(s.seen[r.URL.Path], r.Header.Get("Authorization"))
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *authServer) received(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen[path]...)
}

// pageRequests issues one fetch and one XHR with the header in different
// casings and returns what the page saw.
const pageRequests = `(async () => {
  const resp = await fetch('/api/fetch', { headers: { 'AUTHORIZATION': 'Bearer from-fetch' } });
  const fetchBody = await resp.json();
  const xhrBody = await new Promise((resolve, reject) => {
    const xhr = new XMLHttpRequest();
    xhr.open('GET', '/api/xhr');
    xhr.setRequestHeader('authorization', 'Bearer from-xhr');
    xhr.onload = () => resolve(JSON.parse(xhr.responseText));
    xhr.onerror = () => reject(new Error('xhr failed'));
    xhr.send();
  });
  return {
    fetchStatus: resp.status,
    fetchIsResponse: resp instanceof Response,
    fetchPath: fetchBody.path,
    xhrPath: xhrBody.path,
  };
})()`

type pageResult struct {
	FetchStatus     int    `json:"fetchStatus"`
	FetchIsResponse bool   `json:"fetchIsResponse"`
	FetchPath       string `json:"fetchPath"`
	XHRPath         string `json:"xhrPath"`
}

func runPageRequests(t *testing.T, ctx context.Context, sess *Session) pageResult {
	t.Helper()
	var res pageResult
	err := sess.Run(ctx, chromedp.Evaluate(pageRequests, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	require.NoError(t, err)
	return res
}

// sourceCounter counts accepted-or-not reports per source.
type sourceCounter struct {
	mu     sync.Mutex
	counts map[capture.Source]int
}

func (c *sourceCounter) observe(info capture.RequestInfo, _ bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[capture.Source]int)
	}
	c.counts[info.Source]++
}

func (c *sourceCounter) get(src capture.Source) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[src]
}

func TestPageHook_InBrowser(t *testing.T) {
	sess, ctx := setupBrowserSession(t)
	server := newAuthServer(t)

	rec := capture.NewRecorder(capture.LatestWins)
	sink := capture.NewSink(rec, "", zap.NewNop())
	counter := &sourceCounter{}
	sink.OnObserve = counter.observe

	hook := NewPageHook(sink, false, zap.NewNop())
	require.NoError(t, hook.Install(sess.Context()))
	require.NoError(t, hook.Install(sess.Context()), "second install is a no-op")

	require.NoError(t, sess.Navigate(ctx, server.URL+"/"))
	// Running the script again in the loaded page must not wrap twice.
	require.NoError(t, sess.Run(ctx, chromedp.Evaluate(hookScript, nil)))

	res := runPageRequests(t, ctx, sess)

	// The page gets the real responses.
	assert.Equal(t, http.StatusOK, res.FetchStatus)
	assert.True(t, res.FetchIsResponse)
	assert.Equal(t, "/api/fetch", res.FetchPath)
	assert.Equal(t, "/api/xhr", res.XHRPath)

	// The wrapped calls still reach the server, header intact, once each.
	assert.Equal(t, []string{"Bearer from-fetch"}, server.received("/api/fetch"))
	assert.Equal(t, []string{"Bearer from-xhr"}, server.received("/api/xhr"))

	require.Eventually(t, func() bool {
		return counter.get(capture.SourceHookFetch) >= 1 && counter.get(capture.SourceHookXHR) >= 1
	}, 5*time.Second, 20*time.Millisecond)
	// Give duplicate reports a chance to show up before counting.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, counter.get(capture.SourceHookFetch), "one report per fetch")
	assert.Equal(t, 1, counter.get(capture.SourceHookXHR), "one report per XHR")

	obs, ok := rec.Observation()
	require.True(t, ok)
	assert.Equal(t, "from-xhr", obs.Token)
	assert.Equal(t, capture.SourceHookXHR, obs.Source)
}

func TestPageHook_InBrowserResetOnNavigation(t *testing.T) {
	sess, ctx := setupBrowserSession(t)
	server := newAuthServer(t)

	rec := capture.NewRecorder(capture.FirstWins)
	hook := NewPageHook(capture.NewSink(rec, "", zap.NewNop()), true, zap.NewNop())
	require.NoError(t, hook.Install(sess.Context()))

	require.NoError(t, sess.Navigate(ctx, server.URL+"/"))
	runPageRequests(t, ctx, sess)
	require.Eventually(t, func() bool {
		_, ok := rec.Value()
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, sess.Navigate(ctx, server.URL+"/?reloaded=1"))
	require.Eventually(t, func() bool {
		_, ok := rec.Value()
		return !ok
	}, 5*time.Second, 20*time.Millisecond, "a fresh page load clears the captured value")

	url, err := sess.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/?reloaded=1", url)
}

func TestNetworkInterceptor_InBrowser(t *testing.T) {
	sess, ctx := setupBrowserSession(t)
	server := newAuthServer(t)

	rec := capture.NewRecorder(capture.FirstWins)
	sink := capture.NewSink(rec, "/api/", zap.NewNop())
	n := NewNetworkInterceptor(sink, false, zap.NewNop())
	require.NoError(t, n.Install(sess.Context()))
	require.NoError(t, n.Install(sess.Context()), "second install is a no-op")

	require.NoError(t, sess.Navigate(ctx, server.URL+"/"))
	res := runPageRequests(t, ctx, sess)
	assert.Equal(t, "/api/fetch", res.FetchPath)
	assert.Equal(t, []string{"Bearer from-fetch"}, server.received("/api/fetch"))

	require.Eventually(t, func() bool {
		_, ok := rec.Value()
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	obs, _ := rec.Observation()
	assert.Equal(t, "from-fetch", obs.Token)
	assert.Equal(t, capture.SourceNetwork, obs.Source)
	assert.Equal(t, server.URL+"/api/fetch", obs.URL)

	cookies, err := sess.Cookies(ctx)
	require.NoError(t, err)
	assert.Empty(t, cookies)
}
