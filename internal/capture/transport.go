// internal/capture/transport.go
package capture

import "net/http"

// Transport is an http.RoundTripper middleware that reports each outgoing
// request to an Observer and then forwards it untouched.
type Transport struct {
	next     http.RoundTripper
	observer Observer
}

// NewTransport wraps next. A nil next uses http.DefaultTransport.
func NewTransport(next http.RoundTripper, observer Observer) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{next: next, observer: observer}
}

// RoundTrip implements http.RoundTripper. The response and error of the wrapped
// transport are returned as is.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.observer != nil {
		headers := make(map[string]string, len(req.Header))
		for k, vs := range req.Header {
			if len(vs) > 0 {
				headers[k] = vs[0]
			}
		}
		t.observer.ObserveRequest(RequestInfo{
			URL:     req.URL.String(),
			Method:  req.Method,
			Source:  SourceTransport,
			Headers: headers,
		})
	}
	return t.next.RoundTrip(req)
}
