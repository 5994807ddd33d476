package common

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trading-gateway/pkg/logger"
)

// RateLimiter paces outbound venue requests. A zero rate disables pacing,
// in which case Wait only tracks usage.
type RateLimiter struct {
	limiter *rate.Limiter

	mu            sync.Mutex
	used          int
	lastReset     time.Time
	resetInterval time.Duration
	warnAt        int
}

// NewRateLimiter allows perSecond requests with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		lastReset:     time.Now(),
		resetInterval: time.Second,
	}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		rl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		rl.warnAt = int(perSecond*0.8) + 1
	}
	return rl
}

// Wait blocks until a request may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	if rl.limiter != nil {
		if err := rl.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.used = 0
		rl.lastReset = time.Now()
	}
	rl.used++
	if rl.warnAt > 0 && rl.used == rl.warnAt {
		logger.GetLogger().WithComponent("ratelimit").
			WithFields(logger.Fields{"used": rl.used, "window": rl.resetInterval.String()}).
			Warn("upstream request rate approaching limit")
	}
	return nil
}

// Usage returns the number of requests sent in the current window.
func (rl *RateLimiter) Usage() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0
	}
	return rl.used
}
