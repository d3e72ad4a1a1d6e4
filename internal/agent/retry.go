package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/log"
	"github.com/parlor-ai/parlor/internal/stream"
)

// RetryConfig configures the retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for model API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryableError determines if an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	// Rate limit errors - always retry
	if containsAny(errStr, "rate limit", "quota exceeded", "429") {
		return true
	}

	// Transient server errors - retry
	if containsAny(errStr, "500", "502", "503", "504", "overloaded", "unavailable") {
		return true
	}

	// Network errors - retry
	if containsAny(errStr, "connection reset", "timeout", "temporary") {
		return true
	}

	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// RetryEvents wraps a stream dialer with rate limiting and
// exponential backoff. A retryable failure that happens before the
// stream has yielded any unit redials the stream; once content has
// flowed the response is already partially consumed, so errors pass
// through untouched.
func RetryEvents(ctx context.Context, logger log.Logger, cfg RetryConfig, limiter *rate.Limiter, dial func(ctx context.Context) stream.Events) stream.Events {
	return func(yield func(content.Unit, error) bool) {
		delay := cfg.InitialInterval
		start := time.Now()

		for attempt := 0; ; attempt++ {
			// Rate limit each attempt, retries included.
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					yield(nil, fmt.Errorf("rate limit wait: %w", err))
					return
				}
			}

			yielded := false
			stopped := false
			var streamErr error

			dial(ctx)(func(u content.Unit, err error) bool {
				if err != nil {
					streamErr = err
					return false
				}
				yielded = true
				if !yield(u, nil) {
					stopped = true
					return false
				}
				return true
			})
			if stopped {
				return
			}

			if streamErr == nil {
				logger.Debug("model stream completed",
					"attempts", attempt+1,
					"elapsed", time.Since(start),
				)
				return
			}

			// Errors after content started flowing are final.
			if yielded || !retryableError(streamErr) || attempt >= cfg.MaxRetries {
				yield(nil, streamErr)
				return
			}

			logger.Debug("retrying after stream error",
				"attempt", attempt+1,
				"delay", delay,
				"elapsed", time.Since(start),
				"error", streamErr,
			)
			select {
			case <-ctx.Done():
				yield(nil, fmt.Errorf("canceled during retry: %w", ctx.Err()))
				return
			case <-time.After(delay):
				delay = min(delay*2, cfg.MaxInterval)
			}
		}
	}
}
