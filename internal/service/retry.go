package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/and161185/signflow/internal/errs"
)

// RetryPolicy bounds retries of idempotent reads. Only errs.ErrTransient is retried.
type RetryPolicy struct {
	MaxRetries uint64
	Initial    time.Duration
	Max        time.Duration
}

// DefaultRetryPolicy is used when a zero policy is supplied.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 4, Initial: 200 * time.Millisecond, Max: 5 * time.Second}

func (p RetryPolicy) orDefault() RetryPolicy {
	if p == (RetryPolicy{}) {
		return DefaultRetryPolicy
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retry runs op until it succeeds, fails permanently, retries run out or ctx ends.
func (p RetryPolicy) retry(ctx context.Context, log *zap.Logger, what string, op func() error) error {
	p = p.orDefault()
	attempt := 0
	bo := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), p.MaxRetries), ctx)
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errs.ErrTransient) || ctx.Err() != nil {
			// Returning a permanent error kills the retry loop.
			return backoff.Permanent(err)
		}
		log.Warn("transient failure, retrying",
			zap.String("op", what),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}, bo)
}
