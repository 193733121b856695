// internal/artifact/requests.go
package artifact

import (
	"net/http"
	"sync"
	"time"

	"github.com/xkilldash9x/authtap/internal/capture"
	"github.com/xkilldash9x/authtap/internal/observability"
)

// DefaultRequestLogLimit caps the entries kept for a single run.
const DefaultRequestLogLimit = 5000

// LoggedRequest is one request seen by any observer. Credential headers are
// masked.
type LoggedRequest struct {
	Time             time.Time         `json:"time"`
	Source           string            `json:"source"`
	Method           string            `json:"method,omitempty"`
	URL              string            `json:"url"`
	HasAuthorization bool              `json:"has_authorization"`
	Headers          map[string]string `json:"headers,omitempty"`
}

// RequestLogDocument is the on-disk request log of one run.
type RequestLogDocument struct {
	RunID       string          `json:"run_id"`
	PageURL     string          `json:"page_url,omitempty"`
	Captured    bool            `json:"captured"`
	Token       string          `json:"token,omitempty"`
	TokenSource string          `json:"token_source,omitempty"`
	Requests    []LoggedRequest `json:"requests"`
	Dropped     int             `json:"dropped,omitempty"`
	Cookies     []string        `json:"cookies,omitempty"`
}

// RequestLog collects every observed request. It is safe for concurrent use
// and implements capture.Observer.
type RequestLog struct {
	limit int
	now   func() time.Time

	mu      sync.Mutex
	entries []LoggedRequest
	dropped int
}

var _ capture.Observer = (*RequestLog)(nil)

// NewRequestLog returns a log keeping at most limit entries. A non-positive
// limit uses DefaultRequestLogLimit.
func NewRequestLog(limit int) *RequestLog {
	if limit <= 0 {
		limit = DefaultRequestLogLimit
	}
	return &RequestLog{limit: limit, now: time.Now}
}

// ObserveRequest records info. Entries past the limit are counted, not kept.
func (l *RequestLog) ObserveRequest(info capture.RequestInfo) {
	_, hasAuth := capture.MatchAuthorizationStrings(info.Headers)
	entry := LoggedRequest{
		Time:             l.now(),
		Source:           string(info.Source),
		Method:           info.Method,
		URL:              info.URL,
		HasAuthorization: hasAuth,
		Headers:          maskHeaders(info.Headers),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.limit {
		l.dropped++
		return
	}
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the recorded requests.
func (l *RequestLog) Entries() []LoggedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LoggedRequest(nil), l.entries...)
}

// Document assembles the request log for writing. The token, when present,
// is masked.
func (l *RequestLog) Document(runID, pageURL string, obs *capture.Observation, cookies []Cookie) RequestLogDocument {
	l.mu.Lock()
	doc := RequestLogDocument{
		RunID:    runID,
		PageURL:  pageURL,
		Requests: append([]LoggedRequest{}, l.entries...),
		Dropped:  l.dropped,
	}
	l.mu.Unlock()

	if obs != nil && obs.Token != "" {
		doc.Captured = true
		doc.Token = observability.MaskSecret(obs.Token)
		doc.TokenSource = string(obs.Source)
	}
	for _, c := range cookies {
		doc.Cookies = append(doc.Cookies, c.Name+"@"+c.Domain)
	}
	return doc
}

// WriteRequestLog writes doc as indented JSON.
func WriteRequestLog(path string, doc RequestLogDocument) error {
	return writeJSON(path, doc)
}

// maskHeaders copies headers, masking values that carry credentials.
func maskHeaders(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if isCredentialHeader(k) {
			v = observability.MaskSecret(v)
		}
		out[k] = v
	}
	return out
}

func isCredentialHeader(name string) bool {
	if capture.IsAuthorizationHeader(name) {
		return true
	}
	switch http.CanonicalHeaderKey(name) {
	case "Cookie", "Proxy-Authorization", "X-Api-Key":
		return true
	}
	return false
}
