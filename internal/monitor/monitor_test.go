package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(4)
	for _, v := range []float64{99, 10, 20, 30, 40} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 10.0, s.Min)
	assert.Equal(t, 40.0, s.Max)
	assert.Equal(t, 25.0, s.Avg)

	var nilH *LatencyHistogram
	nilH.Record(1)
	assert.Equal(t, LatencyStats{}, nilH.Stats())
}

func TestTimerRecords(t *testing.T) {
	h := NewLatencyHistogram(10)
	d := NewTimer(h).Stop()
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Equal(t, 1, h.Stats().Count)
}

func TestLoopMonitorHealthy(t *testing.T) {
	var m LoopMonitor
	ok, _, _ := m.Healthy(time.Now(), time.Second)
	assert.False(t, ok, "never ticked")

	m.Tick()
	m.SetError(errors.New("HTTP Error: 502"))
	ok, _, lastErr := m.Healthy(time.Now(), time.Second)
	assert.True(t, ok)
	assert.Equal(t, "HTTP Error: 502", lastErr)

	ok, age, _ := m.Healthy(time.Now().Add(5*time.Second), time.Second)
	assert.False(t, ok)
	assert.Greater(t, age, time.Second)

	m.SetError(nil)
	assert.Equal(t, "", m.LastError())
}

func TestLoopsStatusSorted(t *testing.T) {
	loops := NewLoops()
	loops.Add("positions", time.Minute).Tick()
	loops.Add("orderbook", time.Minute)

	st := loops.Status(time.Now())
	require.Len(t, st, 2)
	assert.Equal(t, "orderbook", st[0].Name)
	assert.False(t, st[0].Healthy)
	assert.Equal(t, "positions", st[1].Name)
	assert.True(t, st[1].Healthy)
}

type captureSink struct{ msgs []string }

func (c *captureSink) Send(m string) error {
	c.msgs = append(c.msgs, m)
	return nil
}

func TestWatchdogAlertsOncePerTransition(t *testing.T) {
	loops := NewLoops()
	m := loops.Add("open_orders", time.Second)
	sink := &captureSink{}
	w := &Watchdog{Loops: loops, Sink: sink}

	now := time.Now()
	w.Check(now)
	w.Check(now)
	require.Len(t, sink.msgs, 1)
	assert.Contains(t, sink.msgs[0], "open_orders has not ticked")

	m.Tick()
	w.Check(time.Now())
	require.Len(t, sink.msgs, 2)
	assert.Contains(t, sink.msgs[1], "recovered")
}

func TestMetricsNilSafeAndCounting(t *testing.T) {
	var nilM *Metrics
	nilM.SetConnections(3)
	nilM.ObserveUpstream("public/auth", 200, time.Millisecond, nil)
	nilM.IncBroadcast("orderbook_update")

	m := NewMetrics()
	m.SetConnections(2)
	m.IncBroadcast("positions_update")
	m.IncBroadcast("positions_update")
	m.ObserveUpstream("private/buy", 0, 0, errors.New("refused"))
	m.ObserveUpstream("private/buy", 400, time.Millisecond, errors.New("bad"))
	m.RecordLog("hub", "warn")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.broadcasts.WithLabelValues("positions_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamCalls.WithLabelValues("private/buy", "transport_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamCalls.WithLabelValues("private/buy", "http_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logMessages.WithLabelValues("hub", "warn")))
	assert.NotNil(t, m.Handler())
}

func TestInstanceIDNotEmpty(t *testing.T) {
	assert.NotEmpty(t, InstanceID())
}
