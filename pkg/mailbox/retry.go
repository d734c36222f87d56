package mailbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy returns a constant backoff of interval between attempts, giving
// up after maxRetries retries. It is meant for SubmitWithRetry and
// ReceiveWithRetry.
func RetryPolicy(interval time.Duration, maxRetries uint64) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), maxRetries)
}

// SubmitWithRetry calls p.Submit until it stops failing with ErrBusy or b
// gives up. Any other error ends the loop at once. The mailbox itself never
// retries; this is the caller-side policy.
func SubmitWithRetry(ctx context.Context, p *Producer, data []byte, b backoff.BackOff) (int, error) {
	var n int
	op := func() error {
		var err error
		n, err = p.SubmitContext(ctx, data)
		return retryable(err)
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	return n, err
}

// ReceiveWithRetry calls c.Receive until it stops failing with ErrBusy or b
// gives up. ErrNoMessage is returned as is.
func ReceiveWithRetry(ctx context.Context, c *Consumer, offset int, b backoff.BackOff) ([]byte, error) {
	var data []byte
	op := func() error {
		var err error
		data, err = c.ReceiveContext(ctx, offset)
		return retryable(err)
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	return data, err
}

// OpenSharedWithRetry is OpenShared that retries while another process
// holds the region, since attaching checks the header under the guard.
func OpenSharedWithRetry(ctx context.Context, opts SharedOptions, b backoff.BackOff, mbOpts ...Option) (*Mailbox, error) {
	var mb *Mailbox
	op := func() error {
		var err error
		mb, err = OpenShared(ctx, opts, mbOpts...)
		return retryable(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return mb, nil
}

func retryable(err error) error {
	if err == nil || errors.Is(err, ErrBusy) {
		return err
	}
	return backoff.Permanent(err)
}
