package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"perpbot/internal/logger"
)

// RetryPolicy bounds how often a read against the venue is repeated after a
// transient failure. Attempts counts the first call; Pause is the constant
// wait between calls.
type RetryPolicy struct {
	Attempts int
	Pause    time.Duration
}

// Retry calls fn until it succeeds, returns a non-transient error, the
// policy is exhausted or ctx ends. The last error from fn is returned, or
// the context's error when it ends during a pause.
func Retry[T any](ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	try := 0
	out, err := backoff.Retry(ctx, func() (T, error) {
		try++
		v, err := fn(ctx)
		if err != nil && (!IsTransient(err) || ctx.Err() != nil) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Pause)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("%s 失败 (第%d/%d次), %s 后重试: %v", op, try, attempts, next, err)
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return out, err
}
