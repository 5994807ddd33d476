package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-gateway/pkg/exchanges/common"
)

type fakeAuth struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	err     error
	token   func(n int32) string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		entered: make(chan struct{}, 100),
		release: make(chan struct{}),
		token:   func(n int32) string { return "tok-" + string(rune('0'+n)) },
	}
}

func (f *fakeAuth) Authenticate(ctx context.Context) (string, error) {
	n := f.calls.Add(1)
	f.entered <- struct{}{}
	<-f.release
	if f.err != nil {
		return "", f.err
	}
	return f.token(n), nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	src := newFakeAuth()
	cache := NewTokenCache(src, time.Minute)

	const n = 32
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.Get(context.Background())
		}(i)
	}

	<-src.entered
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
}

func TestFailedRefreshPropagatesAndCachesNothing(t *testing.T) {
	src := newFakeAuth()
	src.err = errors.New("connection refused")
	close(src.release)
	cache := NewTokenCache(src, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background())
			assert.Error(t, err)
			assert.Equal(t, common.KindAuth, common.KindOf(err))
			assert.ErrorContains(t, err, "connection refused")
		}()
	}
	wg.Wait()
	calls := src.calls.Load()
	assert.GreaterOrEqual(t, calls, int32(1))
	assert.False(t, cache.Status().Valid)

	src.err = nil
	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, calls+1, src.calls.Load())
}

func TestValidTokenIsServedWithoutIO(t *testing.T) {
	src := newFakeAuth()
	close(src.release)
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	cache := NewTokenCache(src, 15*time.Minute, WithClock(clk.Now))

	first, err := cache.Get(context.Background())
	require.NoError(t, err)

	clk.Advance(14 * time.Minute)
	again, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int32(1), src.calls.Load())

	clk.Advance(2 * time.Minute)
	fresh, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
	assert.Equal(t, int32(2), src.calls.Load())

	st := cache.Status()
	assert.True(t, st.Valid)
	assert.Equal(t, clk.Now().Add(15*time.Minute), st.ExpiresAt)
}

func TestInvalidateOnlyDropsMatchingToken(t *testing.T) {
	src := newFakeAuth()
	close(src.release)
	cache := NewTokenCache(src, time.Minute)

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)

	cache.Invalidate("some-older-token")
	assert.True(t, cache.Status().Valid)

	cache.Invalidate(tok)
	assert.False(t, cache.Status().Valid)

	next, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, tok, next)
}

func TestGetHonoursCallerContext(t *testing.T) {
	src := newFakeAuth()
	cache := NewTokenCache(src, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx)
		done <- err
	}()
	<-src.entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(src.release)
	require.Eventually(t, func() bool { return cache.Status().Valid }, time.Second, 5*time.Millisecond)
}
