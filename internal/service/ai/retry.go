package ai

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zhouzirui/chatty/backend/internal/contract"
	"github.com/zhouzirui/chatty/backend/internal/llm"
)

// RetryPolicy bounds model calls. The zero value makes one attempt with no
// per-attempt deadline.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CallTimeout     time.Duration
}

// DefaultRetryPolicy makes a single attempt capped at one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     1,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CallTimeout:     60 * time.Second,
	}
}

// Do runs op until it succeeds, fails permanently or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	expo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		expo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		expo.MaxInterval = p.MaxInterval
	}
	expo.MaxElapsedTime = 0

	schedule := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		callCtx, cancel := p.attemptContext(ctx)
		defer cancel()

		err := op(callCtx)
		if err != nil && !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}, schedule)
}

func (p RetryPolicy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.CallTimeout)
}

// retryable reports whether another attempt could change the outcome.
func retryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if errors.Is(err, contract.ErrMalformedOutput) || errors.Is(err, llm.ErrContentBlocked) {
		return false
	}
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}
