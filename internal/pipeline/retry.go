package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryPolicy bounds how often and how patiently an operation is retried.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	InitialWait time.Duration // wait before the second attempt
	MaxWait     time.Duration // cap on a single wait
	Factor      float64       // exponential backoff factor
}

// NoRetry runs an operation exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// DefaultToolRetry is three attempts starting at two seconds.
func DefaultToolRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		InitialWait: 2 * time.Second,
		MaxWait:     30 * time.Second,
		Factor:      2.0,
	}
}

// Backoff returns the wait after the given 1-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.InitialWait <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	wait := float64(p.InitialWait) * math.Pow(factor, float64(attempt-1))
	if p.MaxWait > 0 {
		wait = math.Min(wait, float64(p.MaxWait))
	}
	return time.Duration(wait)
}

// Retry runs op until it succeeds, shouldRetry rejects its error, or the
// attempts run out. It returns the number of attempts made.
func Retry(ctx context.Context, p RetryPolicy, shouldRetry func(error) bool, op func(attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op(attempt)
		if err == nil || !shouldRetry(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return maxAttempts, err
}
