// internal/capture/poll.go
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the attempt budget runs out without a captured value.
var ErrNotFound = errors.New("authorization value not found")

// ValueSource is anything the poller can query for the captured value.
type ValueSource interface {
	Value() (string, bool)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// PollResult is the outcome of a successful poll.
type PollResult struct {
	Value    string
	Attempts int
	Elapsed  time.Duration
}

// Poller repeatedly checks a ValueSource on a fixed interval.
type Poller struct {
	source ValueSource
	sleep  SleepFunc

	// OnCheck, when set, is called after every check with its 1-based number.
	OnCheck func(attempt int, found bool)
}

// NewPoller creates a poller over source using a timer-based sleep.
func NewPoller(source ValueSource) *Poller {
	return &Poller{source: source, sleep: SleepContext}
}

// WithSleep replaces the wait function. Intended for tests.
func (p *Poller) WithSleep(fn SleepFunc) *Poller {
	p.sleep = fn
	return p
}

// Poll checks for a value up to maxAttempts times, waiting interval between
// consecutive checks. It returns as soon as a value is present. When the budget
// is exhausted the error wraps ErrNotFound; context cancellation returns the
// context error.
func (p *Poller) Poll(ctx context.Context, interval time.Duration, maxAttempts int) (PollResult, error) {
	if maxAttempts <= 0 {
		return PollResult{}, fmt.Errorf("max attempts must be positive, got %d", maxAttempts)
	}
	if interval < 0 {
		return PollResult{}, fmt.Errorf("interval must not be negative, got %s", interval)
	}

	start := time.Now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return PollResult{Attempts: attempt - 1, Elapsed: time.Since(start)}, err
		}

		v, ok := p.source.Value()
		found := ok && v != ""
		if p.OnCheck != nil {
			p.OnCheck(attempt, found)
		}
		if found {
			return PollResult{Value: v, Attempts: attempt, Elapsed: time.Since(start)}, nil
		}

		if attempt == maxAttempts {
			break
		}
		if err := p.sleep(ctx, interval); err != nil {
			return PollResult{Attempts: attempt, Elapsed: time.Since(start)}, err
		}
	}
	return PollResult{Attempts: maxAttempts, Elapsed: time.Since(start)},
		fmt.Errorf("%w after %d checks", ErrNotFound, maxAttempts)
}

// SleepContext waits for d or until ctx is done, returning the context error
// in the latter case.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
