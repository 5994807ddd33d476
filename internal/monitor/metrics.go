package monitor

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the gateway's Prometheus collectors. All methods are safe on
// a nil receiver so components can run without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	connections     prometheus.Gauge
	sendFailures    prometheus.Counter
	messagesIn      *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	broadcasts      *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	tokenRefreshes  *prometheus.CounterVec
	loopCycles      *prometheus.CounterVec
	loopErrors      *prometheus.CounterVec
	logMessages     *prometheus.CounterVec
}

// NewMetrics creates a registry and registers the gateway collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ws_connections",
			Help: "Current number of registered websocket clients.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ws_send_failures_total",
			Help: "Messages dropped because a client queue was full or closed.",
		}),
		messagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ws_messages_total",
			Help: "Inbound client messages by type and outcome.",
		}, []string{"type", "outcome"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_dispatch_duration_seconds",
			Help:    "Time to handle one inbound client message.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_broadcasts_total",
			Help: "Envelopes fanned out to all clients, by message type.",
		}, []string{"type"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_requests_total",
			Help: "Upstream REST calls by method and outcome.",
		}, []string{"method", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_duration_seconds",
			Help:    "Upstream REST call latency.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5, 10, 20},
		}, []string{"method"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_token_refreshes_total",
			Help: "Access token refresh attempts by outcome.",
		}, []string{"outcome"}),
		loopCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_loop_cycles_total",
			Help: "Completed cycles per background loop.",
		}, []string{"loop"}),
		loopErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_loop_errors_total",
			Help: "Failed upstream fetches per background loop.",
		}, []string{"loop"}),
		logMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_log_messages_total",
			Help: "Warnings and errors logged per component.",
		}, []string{"component", "level"}),
	}
	registry.MustRegister(
		m.connections, m.sendFailures, m.messagesIn, m.dispatchLatency, m.broadcasts,
		m.upstreamCalls, m.upstreamLatency, m.tokenRefreshes, m.loopCycles, m.loopErrors,
		m.logMessages,
	)
	return m
}

// Handler exposes the registry via HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) IncSendFailure() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// ObserveMessage records one handled inbound message. outcome is "ok" or an
// error kind.
func (m *Metrics) ObserveMessage(msgType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.messagesIn.WithLabelValues(msgType, outcome).Inc()
	m.dispatchLatency.WithLabelValues(msgType).Observe(d.Seconds())
}

func (m *Metrics) IncBroadcast(msgType string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(msgType).Inc()
}

// ObserveUpstream matches the venue client's observer signature.
func (m *Metrics) ObserveUpstream(method string, status int, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case status == 0 && err != nil:
		outcome = "transport_error"
	case err != nil:
		outcome = "http_error"
	}
	m.upstreamCalls.WithLabelValues(method, outcome).Inc()
	if d > 0 {
		m.upstreamLatency.WithLabelValues(method).Observe(d.Seconds())
	}
}

func (m *Metrics) IncTokenRefresh(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.tokenRefreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLoopCycle(loop string) {
	if m == nil {
		return
	}
	m.loopCycles.WithLabelValues(loop).Inc()
}

func (m *Metrics) IncLoopError(loop string) {
	if m == nil {
		return
	}
	m.loopErrors.WithLabelValues(loop).Inc()
}

// RecordLog matches logger.Recorder.
func (m *Metrics) RecordLog(component, level string) {
	if m == nil {
		return
	}
	m.logMessages.WithLabelValues(component, level).Inc()
}

// LatencyHistogram keeps a sliding window of samples for the health report,
// where percentiles are wanted without a Prometheus query.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// LatencyStats holds computed latency statistics in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// NewLatencyHistogram creates a window of the given size (1000 if <= 0).
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats recomputes only when samples changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	if h == nil {
		return LatencyStats{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// Timer measures one operation into a histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records and returns the elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.histogram.RecordDuration(elapsed)
	return elapsed
}
