package genai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/windowpet/companiond/internal/keypool"
	"github.com/windowpet/companiond/internal/stats"
)

const (
	// DefaultRetryDelay is the fixed wait between non-rate-limit attempt
	// failures. Rate-limit failures advance immediately, they are about the
	// credential rather than the endpoint.
	DefaultRetryDelay = 800 * time.Millisecond
	// maxAttemptCap bounds the attempt budget regardless of pool size.
	maxAttemptCap = 10
)

// ErrAttemptsExhausted is returned when every attempt in the budget failed.
// The terminal failure wraps the last per-attempt error.
var ErrAttemptsExhausted = errors.New("all generate attempts exhausted")

// AttemptPolicy is the retry math, separated from credential selection so it
// can be tested on its own.
type AttemptPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// PolicyForPool derives the default policy for a pool of n credentials:
// up to min(2n, 10) attempts with the default inter-attempt delay.
func PolicyForPool(n int) AttemptPolicy {
	attempts := 2 * n
	if attempts > maxAttemptCap {
		attempts = maxAttemptCap
	}
	if attempts < 1 {
		attempts = 1
	}
	return AttemptPolicy{MaxAttempts: attempts, RetryDelay: DefaultRetryDelay}
}

// Generator is the one true network boundary: one generate call with one
// credential. *Client implements it; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, systemInstruction, userQuery, credential string) (string, error)
}

// Invoker runs generate calls with failover across the key pool. Within one
// invocation credential attempts are strictly sequential, so worst-case
// external load is one request in flight system-wide.
type Invoker struct {
	pool   *keypool.Pool
	gen    Generator
	policy AttemptPolicy
	stats  *stats.Collector
}

// NewInvoker wires the retry loop to a pool and a generator. The stats
// collector may be nil.
func NewInvoker(pool *keypool.Pool, gen Generator, policy AttemptPolicy, collector *stats.Collector) *Invoker {
	return &Invoker{pool: pool, gen: gen, policy: policy, stats: collector}
}

// Invoke attempts the generate call until it succeeds or the attempt budget
// is exhausted. Success records response time against the credential and
// returns the parsed reply. The terminal error wraps the last failure; the
// caller owns any user-facing fallback.
func (inv *Invoker) Invoke(ctx context.Context, source, systemInstruction, userQuery string) (Reply, error) {
	delay := backoff.NewConstantBackOff(inv.policy.RetryDelay)

	var lastErr error
	for attempt := 1; attempt <= inv.policy.MaxAttempts; attempt++ {
		key, idx := inv.pool.Next()
		inv.stats.Add(source, stats.CallsAttempted, 1)

		start := time.Now()
		text, err := inv.gen.Generate(ctx, systemInstruction, userQuery, key)
		elapsed := time.Since(start)

		if err == nil {
			inv.pool.RecordSuccess(idx, elapsed.Milliseconds())
			inv.stats.Add(source, stats.CallsSucceeded, 1)
			logrus.Debugf("Generate attempt %d/%d succeeded with credential %d in %v", attempt, inv.policy.MaxAttempts, idx, elapsed)
			return ParseReply(text), nil
		}

		lastErr = err
		inv.pool.RecordFailure(idx, truncate(err.Error(), 120))
		logrus.Warnf("Generate attempt %d/%d with credential %d failed: %v", attempt, inv.policy.MaxAttempts, idx, err)

		if IsRateLimited(err) {
			inv.stats.Add(source, stats.RateLimitHits, 1)
			continue
		}

		if attempt < inv.policy.MaxAttempts {
			select {
			case <-time.After(delay.NextBackOff()):
			case <-ctx.Done():
				inv.stats.Add(source, stats.CallsFailed, 1)
				return Reply{}, fmt.Errorf("%w: %v", ErrAttemptsExhausted, ctx.Err())
			}
		}
	}

	inv.stats.Add(source, stats.CallsFailed, 1)
	// Both errors stay in the chain so callers can classify the terminal
	// failure with errors.As.
	return Reply{}, fmt.Errorf("%w: %w", ErrAttemptsExhausted, lastErr)
}

// IsRateLimited reports whether err (or anything it wraps) is a quota or
// rate-limit class failure.
func IsRateLimited(err error) bool {
	var callErr *CallError
	return errors.As(err, &callErr) && callErr.RateLimited()
}
