package scoring

import (
	"context"
	"fmt"
	"time"
)

type bounded struct {
	next    Provider
	timeout time.Duration
	retries int
}

// Bounded wraps p so that every attempt is limited to timeout and failed
// attempts are retried up to retries more times. The final failure wraps
// ErrUnscorable together with the last underlying error.
//
// The HTTP provider already retries at the transport level and is normally
// bounded with zero retries.
func Bounded(p Provider, timeout time.Duration, retries int) Provider {
	if retries < 0 {
		retries = 0
	}
	return &bounded{next: p, timeout: timeout, retries: retries}
}

func (b *bounded) Score(ctx context.Context, text string) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		res, err := b.attempt(ctx, text)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return Result{}, fmt.Errorf("%w: %w", ErrUnscorable, lastErr)
}

func (b *bounded) attempt(ctx context.Context, text string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Score(ctx, text)
}
