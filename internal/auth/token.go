// Package auth holds the upstream access token cache and the optional
// client token check for the websocket endpoint.
package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trading-gateway/internal/monitor"
	"trading-gateway/pkg/exchanges/common"
	"trading-gateway/pkg/logger"
)

// DefaultTTL is how long a fetched token is trusted.
const DefaultTTL = 15 * time.Minute

// Authenticator obtains a fresh access token from the venue.
type Authenticator interface {
	Authenticate(ctx context.Context) (string, error)
}

type tokenState struct {
	token   string
	expires time.Time
}

// TokenCache shares one upstream access token across the process. Token and
// expiry are replaced together, so readers never see a mixed pair.
type TokenCache struct {
	src     Authenticator
	ttl     time.Duration
	now     func() time.Time
	metrics *monitor.Metrics
	log     *logger.Entry

	mu    sync.RWMutex
	state *tokenState

	group singleflight.Group
}

// Option customises a TokenCache.
type Option func(*TokenCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *TokenCache) { c.now = now }
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *monitor.Metrics) Option {
	return func(c *TokenCache) { c.metrics = m }
}

func NewTokenCache(src Authenticator, ttl time.Duration, opts ...Option) *TokenCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &TokenCache{
		src: src,
		ttl: ttl,
		now: time.Now,
		log: logger.GetLogger().WithComponent("token"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TokenCache) current() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil || !c.now().Before(c.state.expires) {
		return "", false
	}
	return c.state.token, true
}

// Get returns a valid token, refreshing it when absent or expired.
// Concurrent callers that miss share a single upstream call and all see its
// outcome. A caller whose ctx ends stops waiting; the refresh itself runs to
// completion for the others.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	if tok, ok := c.current(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (any, error) {
		if tok, ok := c.current(); ok {
			return tok, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	tok, err := c.src.Authenticate(ctx)
	if err != nil {
		c.metrics.IncTokenRefresh(false)
		c.log.WithError(err).Warn("access token refresh failed")
		if common.KindOf(err) == common.KindAuth {
			return "", err
		}
		return "", &common.Error{Kind: common.KindAuth, Op: "token", Err: err}
	}
	expires := c.now().Add(c.ttl)
	c.mu.Lock()
	c.state = &tokenState{token: tok, expires: expires}
	c.mu.Unlock()

	c.metrics.IncTokenRefresh(true)
	c.log.WithField("expires_at", expires.Format(time.RFC3339)).Info("access token refreshed")
	return tok, nil
}

// Invalidate drops the cached token if it is still tok, so a 401 on an old
// token does not discard a newer one.
func (c *TokenCache) Invalidate(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil && (tok == "" || c.state.token == tok) {
		c.state = nil
		c.log.Info("access token invalidated")
	}
}

// Status is the token summary shown on /health. The token itself is never
// exposed.
type Status struct {
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (c *TokenCache) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return Status{}
	}
	return Status{Valid: c.now().Before(c.state.expires), ExpiresAt: c.state.expires}
}
