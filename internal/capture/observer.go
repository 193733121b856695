// internal/capture/observer.go
package capture

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// RequestInfo describes one outgoing request as seen by an observer.
type RequestInfo struct {
	URL     string
	Method  string
	Source  Source
	Headers map[string]string
}

// Observer receives every outgoing request an interceptor sees. Implementations
// must not block and must not modify the request.
type Observer interface {
	ObserveRequest(RequestInfo)
}

// Interceptor is an observer source bound to a browser tab or client.
// Install must be idempotent: repeated calls in the same session are no-ops.
type Interceptor interface {
	Install(ctx context.Context) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(RequestInfo)

func (f ObserverFunc) ObserveRequest(info RequestInfo) { f(info) }

// Sink is the Observer that feeds a Recorder.
type Sink struct {
	recorder  *Recorder
	logger    *zap.Logger
	urlFilter string

	// OnRequest, when set, is called for every observed request before any
	// matching or filtering.
	OnRequest func(info RequestInfo)

	// OnObserve, when set, is called for every request carrying the header,
	// with whether the recorder accepted it.
	OnObserve func(info RequestInfo, accepted bool)
}

// NewSink returns a Sink writing to recorder. When urlFilter is non-empty only
// requests whose URL contains it are considered.
func NewSink(recorder *Recorder, urlFilter string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		recorder:  recorder,
		logger:    logger.Named("sink"),
		urlFilter: urlFilter,
	}
}

// Recorder returns the recorder this sink writes to.
func (s *Sink) Recorder() *Recorder { return s.recorder }

// ObserveRequest implements Observer.
func (s *Sink) ObserveRequest(info RequestInfo) {
	if s.OnRequest != nil {
		s.OnRequest(info)
	}
	raw, ok := MatchAuthorizationStrings(info.Headers)
	if !ok {
		return
	}
	if s.urlFilter != "" && !strings.Contains(info.URL, s.urlFilter) {
		s.logger.Debug("Ignoring authorization header outside URL filter.", zap.String("url", info.URL))
		return
	}

	changed, err := s.recorder.Observe(Observation{
		RawValue: raw,
		Source:   info.Source,
		URL:      info.URL,
		Method:   info.Method,
	})
	if errors.Is(err, ErrMalformedValue) {
		s.logger.Debug("Authorization header present but empty; still waiting.",
			zap.String("source", string(info.Source)), zap.String("url", info.URL))
	}
	if changed {
		s.logger.Info("Authorization header captured.",
			zap.String("source", string(info.Source)),
			zap.String("method", info.Method),
			zap.String("url", info.URL),
			zap.String("policy", s.recorder.Policy().String()))
	}
	if s.OnObserve != nil {
		s.OnObserve(info, changed)
	}
}

// HeadersFromInterface flattens a CDP style header map into strings,
// dropping non-string values.
func HeadersFromInterface(in map[string]interface{}) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
