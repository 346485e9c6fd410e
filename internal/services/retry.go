package services

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"
)

// RetryPolicy controls how often a failing step is retried and how long to
// wait between attempts.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy retries a step up to three times, waiting 1s, 2s, 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// withRetry runs fn until it succeeds, retryable rejects its error, the
// policy's retries are used up or ctx ends. The last error is returned.
func withRetry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || retryable == nil || attempt >= policy.MaxRetries || !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		slog.Info("retry: step failed, backing off", "attempt", attempt+1, "err", err)
		if !sleepWithBackoff(ctx, policy, attempt) {
			return err
		}
	}
}

// sleepWithBackoff waits for the backoff duration. It reports false when ctx
// ended first.
func sleepWithBackoff(ctx context.Context, policy RetryPolicy, attempt int) bool {
	timer := time.NewTimer(calculateBackoff(policy, attempt))
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// calculateBackoff computes the delay for a given attempt using exponential backoff.
func calculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt))
	if time.Duration(delay) > policy.MaxDelay {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

// isRetryable checks if an error is worth retrying.
func isRetryable(err error) bool {
	return isRetryableMsg(err.Error())
}

// isCloneRetryable also retries a missing repository: GitHub creates forks
// asynchronously, so a fresh fork may not be clonable yet.
func isCloneRetryable(err error) bool {
	return isRetryable(err) || strings.Contains(strings.ToLower(err.Error()), "repository not found")
}

// isRetryableMsg checks if an error message indicates a retryable condition.
func isRetryableMsg(msg string) bool {
	lower := strings.ToLower(msg)
	retryablePatterns := []string{
		"timeout", "rate limit", "too many requests",
		"429", "500", "502", "503", "504",
		"connection reset", "connection refused", "eof",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
