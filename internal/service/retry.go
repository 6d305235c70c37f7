package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"progkeeper/api/internal/config"
	"progkeeper/api/internal/repository"
)

// RetryPolicy bounds how storage calls are retried. MaxRetries of zero
// means a single attempt.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retry runs op until it succeeds, fails permanently or the policy gives up.
// The last error is returned as is; callers decide how to classify it.
func retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	return retryWhen(ctx, p, op, permanent)
}

// retryUnsent is retry for writes that must not be applied twice. Only
// failures the driver reports as happening before the statement reached the
// server are retried.
func retryUnsent[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	return retryWhen(ctx, p, op, func(err error) bool {
		return permanent(err) || !repository.SafeToRetry(err)
	})
}

func retryWhen[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error), stop func(error) bool) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && stop(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.backOff(ctx))
}

func permanent(err error) bool {
	return repository.IsPermanent(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
