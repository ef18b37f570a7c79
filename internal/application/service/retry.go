package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/invoice"
	"go.uber.org/zap"
)

// RetryPolicy bounds calls to external collaborators
type RetryPolicy struct {
	// Timeout applies to each attempt
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is used for zero fields of a configured policy
var DefaultRetryPolicy = RetryPolicy{
	Timeout:        30 * time.Second,
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     10 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultRetryPolicy.Timeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultRetryPolicy.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// backoff returns the wait before attempt n+1, doubling from InitialBackoff up to MaxBackoff
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// jittered returns a wait drawn uniformly from [d/2, d]
func jittered(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}

// isPermanent reports errors that a retry cannot fix
func isPermanent(err error) bool {
	return errors.Is(err, port.ErrNotFound) ||
		errors.Is(err, invoice.ErrUnsupportedDocument) ||
		errors.Is(err, invoice.ErrNoText)
}

// retry runs fn until it succeeds, fails permanently, the attempts are used up or ctx ends.
// Every attempt gets its own timeout derived from ctx.
func retry(ctx context.Context, p RetryPolicy, logger *zap.Logger, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if isPermanent(err) {
			logger.Info("Permanent error, not retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}

		if attempt < p.MaxAttempts {
			wait := jittered(p.backoff(attempt))
			logger.Info("Retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-timer.C:
			}
		}
	}

	logger.Error("Operation failed after retries",
		zap.String("operation", op),
		zap.Int("max_attempts", p.MaxAttempts),
		zap.Error(lastErr))
	return fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}
