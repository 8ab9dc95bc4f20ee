// Package retry retries persistence writes that the caller must not drop.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/thinkscotty/newsroom/internal/models"
)

// Policy bounds how hard a write is retried before it is reported as a
// PersistenceError.
type Policy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxTries:        3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// Do runs fn until it succeeds, the policy is exhausted or ctx is done.
// Exhaustion is returned as *models.PersistenceError wrapping the last error.
// Not-found and invalid-argument errors are returned at once, unwrapped.
func Do(ctx context.Context, p Policy, op string, fn func() error) error {
	if p.MaxTries == 0 {
		p.MaxTries = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Persistence write failed, retrying", "op", op, "error", err, "retry_in", next.String())
		}),
	)
	if err == nil {
		return nil
	}
	if permanent(err) {
		return err
	}
	return &models.PersistenceError{Op: op, Err: err}
}

func permanent(err error) bool {
	return errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidArgument)
}
