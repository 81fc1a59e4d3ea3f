package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/hrygo/polystore/internal/storeerr"
)

// ErrPollTimeout is returned when an asynchronous job did not finish in time.
// The job may still complete on the backend afterwards.
var ErrPollTimeout = errors.New("timed out waiting for asynchronous job")

var errNotReady = errors.New("job not finished")

// PollFunc checks a job once. It returns done=true when the job completed and
// a non-nil error when the job failed or the status lookup failed.
type PollFunc func(ctx context.Context) (done bool, err error)

// Poll calls check at a fixed interval until it reports completion, fails, or
// the timeout elapses.
func Poll(ctx context.Context, op string, interval, timeout time.Duration, check PollFunc) error {
	if interval <= 0 {
		interval = time.Second
	}
	pctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := backoff.Retry(func() error {
		done, err := check(pctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return errNotReady
		}
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(interval), pctx))
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return storeerr.ThirdParty(op, ErrPollTimeout).With("timeout", timeout.String())
	}
	return err
}

// Throttle limits the rate of backend round trips. A nil Throttle never waits.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns a throttle allowing rps round trips per second, or nil
// when rps is not positive.
func NewThrottle(rps float64) *Throttle {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a round trip is permitted.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
