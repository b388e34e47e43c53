package service

import (
	"context"

	"blogger/internal/models"
	"blogger/internal/observability"

	"github.com/cenkalti/backoff/v5"
)

// retryRead runs a read under the per-call timeout, retrying STORAGE_UNAVAILABLE
// failures with exponential backoff. Any other error is returned at once.
func retryRead[T any](ctx context.Context, s *PostService, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxInterval = 10 * s.retryInterval

	attempt := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		if attempt > 0 {
			observability.ReadRetries.WithLabelValues(op).Inc()
		}
		attempt++

		callCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
		defer cancel()
		v, err := fn(callCtx)
		err = asStorageError(err)
		if err != nil && !models.IsCode(err, models.CodeStorageUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.readRetries+1)))

	return v, asStorageError(err)
}
