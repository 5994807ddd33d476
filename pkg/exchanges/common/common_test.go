package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseResult(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		ok     bool
		hasErr bool
	}{
		{"result object", `{"jsonrpc":"2.0","result":{"bids":[]}}`, true, false},
		{"result array", `{"result":[1,2]}`, true, false},
		{"null result", `{"result":null}`, false, false},
		{"error body", `{"error":{"code":13009,"message":"unauthorized"}}`, false, true},
		{"not json", `<html>`, false, false},
		{"empty", ``, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Response{StatusCode: 200, Body: []byte(tt.body)}
			_, ok := r.Result()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.hasErr, r.HasError())
		})
	}
}

func TestResponseErrorMessage(t *testing.T) {
	r := &Response{StatusCode: 400, Body: []byte(`{"error":{"code":10004,"message":"order_not_found"}}`)}
	assert.Equal(t, "order_not_found", r.ErrorMessage())
	assert.False(t, r.OK())

	var nilResp *Response
	assert.False(t, nilResp.OK())
	assert.Equal(t, "", nilResp.ErrorMessage())
}

func TestErrorKindMatching(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindTransport, Op: "public/get_order_book", Err: base})

	assert.True(t, errors.Is(err, &Error{Kind: KindTransport}))
	assert.False(t, errors.Is(err, &Error{Kind: KindAuth}))
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(base))
	assert.Contains(t, err.Error(), "public/get_order_book transport error")

	up := &Error{Kind: KindUpstream, Op: "private/buy", Status: 400, Msg: "bad request"}
	assert.Equal(t, "private/buy upstream error: status 400: bad request", up.Error())
}

func TestOrderTypeRequiresPrice(t *testing.T) {
	assert.True(t, OrderTypeLimit.RequiresPrice())
	assert.False(t, OrderType("market").RequiresPrice())
	assert.False(t, OrderType("stop_market").RequiresPrice())
}

func TestKindValid(t *testing.T) {
	for _, k := range []Kind{KindFuture, KindOption, KindSpot, KindFutureCombo, KindOptionCombo} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("perpetual").Valid())
	assert.False(t, Kind("Future").Valid())
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Wait(context.Background()))
	}
	assert.Equal(t, 100, rl.Usage())

	var nilRL *RateLimiter
	assert.NoError(t, nilRL.Wait(context.Background()))
}

func TestRateLimiterHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}
