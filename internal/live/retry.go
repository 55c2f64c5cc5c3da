package live

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/repository"
)

// Reference retry policy.
const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// Retrier runs a write up to Attempts times, sleeping Delay×n after the
// n-th failure. The last error is returned once attempts are exhausted.
// A write against a student record that no longer exists is not retried.
//
// A started sequence always runs to completion: cancelling the caller's
// context does not abort it, because the write is still wanted after the
// user has moved on.
type Retrier struct {
	Attempts int
	Delay    time.Duration

	// Sleep replaces the real timer between attempts; tests swap it.
	Sleep func(time.Duration)
	Log   zerolog.Logger
}

// NewRetrier returns a retrier with the given bound and base delay.
func NewRetrier(attempts int, delay time.Duration, log zerolog.Logger) *Retrier {
	return &Retrier{Attempts: attempts, Delay: delay, Log: log}
}

func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := uint(1)
	if r.Attempts > 1 {
		attempts = uint(r.Attempts)
	}
	ctx = context.WithoutCancel(ctx)

	opts := []retry.Option{
		retry.Attempts(attempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.DelayType(r.linear),
		retry.OnRetry(func(n uint, err error) {
			if n+1 < attempts {
				r.Log.Debug().Err(err).Uint("attempt", n+1).Dur("retry_in", r.linear(n, err, nil)).Msg("Write failed, retrying")
			}
		}),
	}
	if r.Sleep != nil {
		opts = append(opts, retry.WithTimer(sleepTimer(r.Sleep)))
	}

	return retry.Do(func() error { return op(ctx) }, opts...)
}

func retryable(err error) bool {
	return !errors.Is(err, repository.ErrStudentNotFound)
}

// linear is the delay before retry n+1 (n counts from zero).
func (r *Retrier) linear(n uint, _ error, _ *retry.Config) time.Duration {
	return r.Delay * time.Duration(n+1)
}

// sleepTimer adapts a blocking sleep to retry-go's timer hook.
type sleepTimer func(time.Duration)

func (s sleepTimer) After(d time.Duration) <-chan time.Time {
	s(d)
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}
