// Package retry runs operations again when they fail with a retryable typed error.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/angelmondragon/tradepost/pkg/config"
	pkgerrors "github.com/angelmondragon/tradepost/pkg/errors"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = 50 * time.Millisecond
)

// Policy bounds the retry loop.
type Policy struct {
	// MaxAttempts counts the first call.
	MaxAttempts uint64
	BaseDelay   time.Duration
}

// FromConfig converts RetryConfig into a Policy.
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay}
}

func (p Policy) backoff() goretry.Backoff {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = defaultAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	b := goretry.NewExponential(base)
	b = goretry.WithJitterPercent(20, b)
	return goretry.WithMaxRetries(attempts-1, b)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted. Only ConcurrencyConflict and ExternalTimeout are retried.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if pkgerrors.IsRetryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}
