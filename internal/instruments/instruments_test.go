package instruments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-gateway/pkg/exchanges/common"
)

type fakeSource struct {
	mu    sync.Mutex
	body  string
	err   error
	calls int
	args  [][2]string
}

func (f *fakeSource) GetInstruments(ctx context.Context, currency, kind string) (*common.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.args = append(f.args, [2]string{currency, kind})
	if f.err != nil {
		return nil, f.err
	}
	return &common.Response{StatusCode: 200, Body: []byte(f.body)}, nil
}

func (f *fakeSource) set(body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body, f.err = body, err
}

func TestSetSnapshotsAreImmutable(t *testing.T) {
	src := []string{"BTC-PERPETUAL", "BTC-27DEC24"}
	s := NewSet(src)
	src[0] = "mutated"

	snap := s.Names()
	assert.Equal(t, []string{"BTC-PERPETUAL", "BTC-27DEC24"}, snap)

	s.Replace([]string{"ETH-PERPETUAL"})
	assert.Equal(t, []string{"BTC-PERPETUAL", "BTC-27DEC24"}, snap)
	assert.Equal(t, []string{"ETH-PERPETUAL"}, s.Names())
	assert.Equal(t, 1, s.Len())
}

func TestLoad(t *testing.T) {
	src := &fakeSource{body: `{"jsonrpc":"2.0","result":[{"instrument_name":"BTC-PERPETUAL","kind":"future"},{"instrument_name":"BTC-27DEC24"},{"kind":"future"}]}`}
	s := Load(context.Background(), src, "BTC", "future")
	assert.Equal(t, []string{"BTC-PERPETUAL", "BTC-27DEC24"}, s.Names())
	assert.Equal(t, [][2]string{{"BTC", "future"}}, src.args)
}

func TestLoadFailureYieldsEmptySet(t *testing.T) {
	s := Load(context.Background(), &fakeSource{err: errors.New("unreachable")}, "BTC", "future")
	assert.Equal(t, 0, s.Len())

	s = Load(context.Background(), &fakeSource{body: `<html>`}, "BTC", "future")
	assert.Equal(t, 0, s.Len())
}

func TestFetchParseError(t *testing.T) {
	_, err := Fetch(context.Background(), &fakeSource{body: `{"result":"nope"}`}, "ETH", "option")
	require.Error(t, err)
	assert.Equal(t, common.KindParse, common.KindOf(err))
}

func TestRefresherReplacesAndKeepsOnFailure(t *testing.T) {
	src := &fakeSource{body: `{"result":[{"instrument_name":"ETH-PERPETUAL"}]}`}
	set := NewSet([]string{"BTC-PERPETUAL"})
	r := &Refresher{Set: set, Source: src, Currency: "ETH", Kind: "future", Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		names := set.Names()
		return len(names) == 1 && names[0] == "ETH-PERPETUAL"
	}, time.Second, 5*time.Millisecond)

	src.set("", errors.New("timeout"))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, []string{"ETH-PERPETUAL"}, set.Names())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestRefresherDisabled(t *testing.T) {
	r := &Refresher{Set: NewSet(nil), Source: &fakeSource{}}
	assert.NoError(t, r.Run(context.Background()))
}
