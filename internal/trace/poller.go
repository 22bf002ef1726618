package trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielolaszy/hookbot/internal/logging"
)

// ErrTraceUnavailable is returned when the trace stays empty for every attempt.
var ErrTraceUnavailable = errors.New("job trace unavailable")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Poller reads an eventually consistent trace store. After the n-th empty
// response it waits 2^n units of InitialWait before asking again.
type Poller struct {
	InitialWait time.Duration
	MaxAttempts int
	Sleep       SleepFunc
}

// NewPoller returns a poller that sleeps on real timers.
func NewPoller(initialWait time.Duration, maxAttempts int) *Poller {
	return &Poller{
		InitialWait: initialWait,
		MaxAttempts: maxAttempts,
		Sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MaxDelay caps a single wait between two attempts.
const MaxDelay = time.Hour

// Delay returns the wait after the given number of consecutive empty
// responses, never more than MaxDelay.
func (p *Poller) Delay(empty int) time.Duration {
	delay := p.InitialWait
	if delay <= 0 {
		delay = time.Second
	}
	for i := 0; i < empty; i++ {
		if delay >= MaxDelay/2 {
			return MaxDelay
		}
		delay *= 2
	}
	return min(delay, MaxDelay)
}

// Fetch calls fetch until it returns a non-empty trace. Errors from fetch
// count as empty responses.
func (p *Poller) Fetch(ctx context.Context, fetch func(context.Context) (string, error)) (string, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		text, err := fetch(ctx)
		if err == nil && text != "" {
			return text, nil
		}
		if err != nil {
			lastErr = err
			logging.Debug("trace fetch failed", "attempt", attempt, "error", err)
		}
		if attempt >= maxAttempts {
			break
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return "", fmt.Errorf("waiting for trace: %w", err)
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w after %d attempts: %w", ErrTraceUnavailable, maxAttempts, lastErr)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrTraceUnavailable, maxAttempts)
}
