package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted is returned when every attempt failed.
var ErrRetriesExhausted = errors.New("connection: retries exhausted")

// Policy bounds a retry loop.
type Policy struct {
	// Name identifies the link in logs.
	Name string

	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int

	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

// DefaultPolicy returns five attempts five seconds apart.
func DefaultPolicy(name string) Policy {
	return Policy{Name: name, MaxAttempts: 5, Delay: 5 * time.Second}
}

// Logger is the logging surface connection needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Retry calls fn until it succeeds, ctx ends, or p.MaxAttempts calls have
// failed. Exhaustion returns ErrRetriesExhausted wrapping the last error.
func Retry(ctx context.Context, p Policy, logger Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = noopLogger{}
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("connected after retry", "link", p.Name, "attempt", attempt)
			}
			return nil
		}

		if attempt == attempts {
			break
		}
		logger.Warn("connect attempt failed",
			"link", p.Name,
			"attempt", attempt,
			"max_attempts", attempts,
			"retry_in", p.Delay,
			"error", lastErr,
		)

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	logger.Error("giving up on link", "link", p.Name, "attempts", attempts, "error", lastErr)
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, p.Name, attempts, lastErr)
}
