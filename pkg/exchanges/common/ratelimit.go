package common

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RequestLimiter throttles outbound exchange calls so a burst of settlements
// cannot trip the venue's request-weight ban threshold.
type RequestLimiter struct {
	limiter *rate.Limiter
}

// NewRequestLimiter allows `limit` requests per `window`.
func NewRequestLimiter(limit int, window time.Duration) *RequestLimiter {
	per := rate.Limit(float64(limit) / window.Seconds())
	return &RequestLimiter{limiter: rate.NewLimiter(per, limit)}
}

// Wait blocks until a request slot is available or ctx is done.
func (rl *RequestLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.limiter == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}
