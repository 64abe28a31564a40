package session

import (
	"context"
	"time"
)

// CallOptions bound every round trip to the identity service and the
// profile store. Nothing in the lifecycle is allowed to hang Loading
// forever: each attempt gets a timeout, transient failures get exactly one
// retry, and exhaustion surfaces as an auth-service error.
type CallOptions struct {
	Timeout    time.Duration
	RetryDelay time.Duration
}

// DefaultCallOptions mirror the responsiveness the dashboard shell expects.
func DefaultCallOptions() CallOptions {
	return CallOptions{
		Timeout:    10 * time.Second,
		RetryDelay: 250 * time.Millisecond,
	}
}

func (o CallOptions) normalize() CallOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultCallOptions().Timeout
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

// call runs fn with a per-attempt timeout and a single retry on transient
// failure. op names the operation for logging.
func call[T any](ctx context.Context, logger Logger, opts CallOptions, op string, fn func(context.Context) (T, error)) (T, error) {
	opts = opts.normalize()
	if logger == nil {
		logger = defLogger{}
	}

	attempt := func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		return fn(attemptCtx)
	}

	out, err := attempt()
	if err == nil || !IsTransientError(err) {
		return out, err
	}

	logger.Warn("%s failed, retrying once: %v", op, err)

	if opts.RetryDelay > 0 {
		select {
		case <-time.After(opts.RetryDelay):
		case <-ctx.Done():
			var zero T
			return zero, NewAuthServiceError(ctx.Err())
		}
	}

	out, err = attempt()
	if err != nil && IsTransientError(err) {
		var zero T
		return zero, NewAuthServiceError(err)
	}
	return out, err
}
