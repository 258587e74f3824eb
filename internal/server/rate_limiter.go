// Package server builds the per-connection inbound limiter that protects
// the hub from chatty clients.
package server

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/Tyrowin/gochat-relay/internal/config"
)

// newRateLimiter returns a token bucket holding cfg.Burst tokens that refills
// completely every cfg.RefillInterval.
func newRateLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	perSecond := float64(burst) / interval.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
