package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-gateway/internal/monitor"
)

type fakeConn struct {
	id   string
	fail bool

	mu   sync.Mutex
	msgs [][]byte
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) error {
	if c.fail {
		return errors.New("send queue full")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestRegisterUnregisterIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	a := newFakeConn("a")

	assert.True(t, r.Register(a))
	assert.False(t, r.Register(a))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Unregister(a))
	assert.False(t, r.Unregister(a))
	assert.Equal(t, 0, r.Len())
}

func TestBroadcastReachesSnapshotMembers(t *testing.T) {
	r := NewRegistry(monitor.NewMetrics())
	a, b, c := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")
	r.Register(a)
	r.Register(b)

	assert.Equal(t, 2, r.Broadcast([]byte("one")))
	r.Register(c)
	r.Unregister(a)
	assert.Equal(t, 2, r.Broadcast([]byte("two")))

	assert.Equal(t, 1, a.received())
	assert.Equal(t, 2, b.received())
	assert.Equal(t, 1, c.received())
}

func TestBroadcastSkipsFailedSendWithoutRemoving(t *testing.T) {
	r := NewRegistry(nil)
	slow := newFakeConn("slow")
	slow.fail = true
	ok := newFakeConn("ok")
	r.Register(slow)
	r.Register(ok)

	assert.Equal(t, 1, r.Broadcast([]byte("x")))
	assert.Equal(t, 1, ok.received())
	assert.Equal(t, 2, r.Len())
}

func TestChangedSignalsOnFirstRegistration(t *testing.T) {
	r := NewRegistry(nil)
	a, b := newFakeConn("a"), newFakeConn("b")

	r.Register(a)
	select {
	case <-r.Changed():
	case <-time.After(time.Second):
		t.Fatal("expected change signal on first registration")
	}

	r.Register(b)
	select {
	case <-r.Changed():
		t.Fatal("unexpected change signal for second registration")
	default:
	}

	r.Unregister(a)
	r.Unregister(b)
	r.Register(a)
	select {
	case <-r.Changed():
	default:
		t.Fatal("expected change signal after registry emptied and refilled")
	}
}

func TestConcurrentMembershipAndBroadcast(t *testing.T) {
	r := NewRegistry(nil)
	const n = 50
	conns := make([]*fakeConn, n)
	for i := range conns {
		conns[i] = newFakeConn(fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(c *fakeConn) {
			defer wg.Done()
			r.Register(c)
			r.Unregister(c)
			r.Register(c)
		}(conns[i])
		go func() {
			defer wg.Done()
			r.Broadcast([]byte("tick"))
		}()
	}
	wg.Wait()

	require.Equal(t, n, r.Len())
	assert.Len(t, r.Snapshot(), n)
	assert.Equal(t, n, r.Broadcast([]byte("final")))
	for _, c := range conns {
		assert.GreaterOrEqual(t, c.received(), 1)
	}
}
