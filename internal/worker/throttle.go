package worker

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is the self-imposed pacing in front of classification calls,
// independent of the concurrency semaphore. It keeps sustained request
// rate below what the provider tolerates even when many permits are free.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle creates a throttle allowing requestsPerSecond with the given
// burst.
func NewThrottle(requestsPerSecond float64, burst int) *Throttle {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until the limiter grants a slot.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// WaitWithDelay waits for a slot and then an additional fixed delay.
func (t *Throttle) WaitWithDelay(ctx context.Context, additionalDelay time.Duration) error {
	if err := t.Wait(ctx); err != nil {
		return err
	}

	if additionalDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(additionalDelay):
		}
	}

	return nil
}
