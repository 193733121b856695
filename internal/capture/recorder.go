// internal/capture/recorder.go
package capture

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Policy decides which value is kept when several requests carry the header.
type Policy int

const (
	// FirstWins keeps the first non-empty value for the lifetime of the recorder.
	FirstWins Policy = iota
	// LatestWins replaces the stored value with every later non-empty value.
	LatestWins
)

// ParsePolicy maps a configuration string ("first", "latest") to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return FirstWins, nil
	case "latest":
		return LatestWins, nil
	default:
		return FirstWins, fmt.Errorf("unknown capture policy %q", s)
	}
}

func (p Policy) String() string {
	if p == LatestWins {
		return "latest"
	}
	return "first"
}

// Source names the observer that saw a request.
type Source string

const (
	SourceNetwork   Source = "network"
	SourceHookFetch Source = "hook-fetch"
	SourceHookXHR   Source = "hook-xhr"
	SourceTransport Source = "transport"
)

// Observation is a captured token together with where it was seen.
type Observation struct {
	Token      string
	RawValue   string
	Source     Source
	URL        string
	Method     string
	ObservedAt time.Time
}

// Recorder owns the captured value for a single session. It is safe for
// concurrent use; observers write from event goroutines while the poller reads.
type Recorder struct {
	policy Policy

	mu       sync.RWMutex
	current  *Observation
	accepted int
	done     chan struct{}
}

// NewRecorder returns an empty recorder applying the given policy.
func NewRecorder(policy Policy) *Recorder {
	return &Recorder{
		policy: policy,
		done:   make(chan struct{}),
	}
}

// Policy returns the capture policy.
func (r *Recorder) Policy() Policy { return r.policy }

// Observe offers an observation. obs.RawValue is normalized; empty or
// bearer-only values are rejected with ErrMalformedValue. The returned bool
// reports whether the stored value changed.
func (r *Recorder) Observe(obs Observation) (bool, error) {
	token, err := NormalizeToken(obs.RawValue)
	if err != nil {
		return false, err
	}
	obs.Token = token
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		if r.policy == FirstWins || r.current.Token == token {
			return false, nil
		}
	}

	first := r.current == nil
	r.current = &obs
	r.accepted++
	if first {
		close(r.done)
	}
	return true, nil
}

// Value returns the stored token, if any.
func (r *Recorder) Value() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return "", false
	}
	return r.current.Token, true
}

// Observation returns a copy of the stored observation, if any.
func (r *Recorder) Observation() (Observation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Observation{}, false
	}
	return *r.current, true
}

// Count is the number of observations that changed the stored value.
func (r *Recorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accepted
}

// Done is closed when the first value is stored. Reset replaces the channel.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.done
}

// Reset clears the stored value, as a fresh page load would.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return
	}
	r.current = nil
	r.done = make(chan struct{})
}
