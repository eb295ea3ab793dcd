// Package worker bounds and paces concurrent LLM operations.
package worker

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ajiayi-debug/referencesfinder/internal/auth"
	"github.com/ajiayi-debug/referencesfinder/internal/model"
)

// Operation is one LLM call. It must fetch the client handle from the
// broker on each attempt rather than capturing one, since a refresh
// invalidates old handles.
type Operation func(ctx context.Context) (string, error)

// RateLimitError carries a server-supplied retry-after duration for a 429
// response. When present the invoker honors it instead of its own backoff.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return "rate limited: " + e.Err.Error()
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Invoker runs operations under a counting semaphore with exponential
// backoff, credential refresh on auth failures, and a shared pause gate.
// Exhausting retries yields (_, false) rather than an error: one failed
// unit must never abort its batch.
type Invoker struct {
	sem        *semaphore.Weighted
	broker     *auth.Broker
	gate       *Gate
	maxRetries int
	baseDelay  time.Duration
	log        *zap.Logger

	// Injectable for tests.
	sleep  func(time.Duration)
	jitter func() time.Duration
}

// NewInvoker builds an invoker from configuration.
func NewInvoker(broker *auth.Broker, cfg model.InvokerConfig, log *zap.Logger) *Invoker {
	permits := cfg.MaxConcurrent
	if permits <= 0 {
		permits = 10
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{
		sem:        semaphore.NewWeighted(int64(permits)),
		broker:     broker,
		gate:       NewGate(),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		log:        log,
		sleep:      time.Sleep,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(time.Second)))
		},
	}
}

// Invoke runs op under the semaphore, retrying per the error taxonomy.
// Returns (result, true) on success or ("", false) once retries are
// exhausted; callers treat false as "this unit could not be classified,
// proceed without it".
func (inv *Invoker) Invoke(ctx context.Context, op Operation) (string, bool) {
	if err := inv.sem.Acquire(ctx, 1); err != nil {
		return "", false
	}
	defer inv.sem.Release(1)

	backoff := 0 // exponent; auth failures retry without growing it
	for attempt := 0; attempt <= inv.maxRetries; attempt++ {
		// Suspend while any 401-triggered refresh is in flight.
		if err := inv.gate.Wait(ctx); err != nil {
			return "", false
		}

		// Ensure the credential is valid before calling.
		if _, err := inv.broker.Client(ctx); err != nil {
			inv.log.Warn("credential unavailable", zap.Error(err), zap.Int("attempt", attempt))
			if attempt < inv.maxRetries {
				inv.backoffSleep(&backoff)
			}
			continue
		}

		// The credential generation this attempt runs under. A 401 only
		// warrants a refresh while this generation is still current.
		gen := inv.broker.Generation()

		result, err := op(ctx)
		if err == nil {
			return result, true
		}
		if ctx.Err() != nil {
			return "", false
		}

		switch {
		case isAuthError(err):
			// Pause everyone and refresh, then resume. No backoff
			// increment. The broker single-flights concurrent refreshes
			// and skips the refresh entirely when another caller already
			// replaced the credential this attempt was using: one expiry
			// event, one token fetch.
			inv.log.Warn("auth failure, refreshing credential", zap.Int("attempt", attempt))
			inv.gate.Close()
			refreshErr := inv.broker.RefreshIfCurrent(ctx, gen)
			inv.gate.Open()
			if refreshErr != nil {
				inv.log.Warn("refresh after auth failure failed", zap.Error(refreshErr))
				if attempt < inv.maxRetries {
					inv.backoffSleep(&backoff)
				}
			}

		case retryAfter(err) > 0:
			wait := retryAfter(err)
			inv.log.Debug("rate limited, honoring retry-after", zap.Duration("wait", wait))
			inv.sleep(wait)

		default:
			inv.log.Debug("transient failure, backing off", zap.Error(err), zap.Int("attempt", attempt))
			// No sleep after the final failure; there is no attempt left
			// to wait for.
			if attempt < inv.maxRetries {
				inv.backoffSleep(&backoff)
			}
		}
	}

	inv.log.Warn("retries exhausted, dropping unit")
	return "", false
}

// backoffSleep sleeps base<<exponent plus sub-second jitter, then grows
// the exponent.
func (inv *Invoker) backoffSleep(backoff *int) {
	delay := inv.baseDelay << *backoff
	inv.sleep(delay + inv.jitter())
	*backoff++
}

// isAuthError reports whether err is an HTTP 401 from the provider.
func isAuthError(err error) bool {
	return httpStatus(err) == http.StatusUnauthorized
}

// retryAfter extracts a server-supplied retry-after duration, or the base
// backoff for a bare 429 without one.
func retryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// httpStatus extracts the HTTP status code from go-openai errors.
func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
