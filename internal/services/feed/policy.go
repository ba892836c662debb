package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/pkg/either"
	"github.com/archon-research/stl/stl-feed/internal/pkg/retry"
)

// ErrorPolicy decides what a source emits when a fetch fails.
type ErrorPolicy string

const (
	// PolicySuppress logs the failure and emits an empty value.
	PolicySuppress ErrorPolicy = "suppress"

	// PolicyPropagate logs the failure and emits it as an error value.
	// The stream keeps running.
	PolicyPropagate ErrorPolicy = "propagate"

	// PolicyRetry retries the fetch with exponential backoff and falls back
	// to PolicyPropagate once the retries are exhausted.
	PolicyRetry ErrorPolicy = "retry"
)

// ParseErrorPolicy parses a policy name. The empty string selects PolicySuppress.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	policy := ErrorPolicy(strings.ToLower(strings.TrimSpace(s)))
	if policy == "" {
		return PolicySuppress, nil
	}
	if err := policy.Validate(); err != nil {
		return "", err
	}
	return policy, nil
}

// Validate reports whether p is a known policy.
func (p ErrorPolicy) Validate() error {
	switch p {
	case PolicySuppress, PolicyPropagate, PolicyRetry:
		return nil
	default:
		return fmt.Errorf("unknown error policy %q (want suppress, propagate or retry)", string(p))
	}
}

// fetchRunner runs one fetch under a timeout and an error policy.
type fetchRunner struct {
	policy    ErrorPolicy
	retry     retry.Config
	retryable retry.IsRetryableFunc
	timeout   time.Duration
	telemetry *Telemetry
	logger    *slog.Logger
}

// run performs fetch and folds its outcome into an Either according to the
// policy. kind names the fetched value in logs and metrics; attrs are extra
// log attributes.
func run[T any](ctx context.Context, r fetchRunner, kind string, attrs []any, fetch func(context.Context) (T, error)) either.Either[T] {
	start := time.Now()

	attempt := func() (T, error) {
		fetchCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.timeout > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		defer cancel()
		return fetch(fetchCtx)
	}

	var value T
	var err error
	if r.policy == PolicyRetry {
		isRetryable := func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			// The attempt ran into FetchTimeout; the caller is still waiting.
			if errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return r.retryable(err)
		}
		onRetry := func(n int, err error, backoff time.Duration) {
			r.logger.Warn("fetch failed, retrying", append(attrs, "kind", kind, "attempt", n, "backoff", backoff, "error", err)...)
			if r.telemetry != nil {
				r.telemetry.RecordRetry(ctx, kind)
			}
		}
		value, err = retry.Do(ctx, r.retry, isRetryable, onRetry, attempt)
	} else {
		value, err = attempt()
	}

	result := either.Success(value)
	if err != nil {
		r.logger.Error("fetch failed", append(attrs, "kind", kind, "policy", string(r.policy), "error", err)...)
		if r.policy == PolicySuppress {
			result = either.Empty[T]()
		} else {
			result = either.Error[T](err)
		}
	}

	if r.telemetry != nil {
		r.telemetry.RecordFetch(ctx, kind, time.Since(start), outcome(result))
	}
	return result
}

func outcome[T any](e either.Either[T]) string {
	switch {
	case e.IsSuccess():
		return "success"
	case e.IsEmpty():
		return "empty"
	default:
		return "error"
	}
}
