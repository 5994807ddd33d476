package monitor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LoopMonitor tracks whether a background loop is still ticking.
type LoopMonitor struct {
	lastTickUnixNano atomic.Int64
	lastErr          atomic.Value // string
	maxAge           time.Duration
}

func (m *LoopMonitor) Tick() {
	if m == nil {
		return
	}
	m.lastTickUnixNano.Store(time.Now().UnixNano())
}

// SetError records the latest failure; nil clears it.
func (m *LoopMonitor) SetError(err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.lastErr.Store("")
		return
	}
	m.lastErr.Store(err.Error())
}

func (m *LoopMonitor) LastError() string {
	if m == nil {
		return ""
	}
	if v := m.lastErr.Load(); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Healthy reports whether the loop ticked within maxAge. A loop that has
// never ticked is unhealthy.
func (m *LoopMonitor) Healthy(now time.Time, maxAge time.Duration) (ok bool, age time.Duration, lastErr string) {
	lastErr = m.LastError()
	last := m.lastTickUnixNano.Load()
	if last <= 0 {
		return false, 0, lastErr
	}
	t := time.Unix(0, last)
	if now.Before(t) {
		return true, 0, lastErr
	}
	age = now.Sub(t)
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return age <= maxAge, age, lastErr
}

// LoopStatus is one loop's entry in the health report.
type LoopStatus struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	AgeMs     int64  `json:"age_ms"`
	LastError string `json:"last_error,omitempty"`
}

// Loops is a named set of loop monitors.
type Loops struct {
	mu       sync.RWMutex
	monitors map[string]*LoopMonitor
}

func NewLoops() *Loops {
	return &Loops{monitors: make(map[string]*LoopMonitor)}
}

// Add registers a loop that must tick at least every maxAge.
func (l *Loops) Add(name string, maxAge time.Duration) *LoopMonitor {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := &LoopMonitor{maxAge: maxAge}
	l.monitors[name] = m
	return m
}

// Status returns every loop sorted by name.
func (l *Loops) Status(now time.Time) []LoopStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LoopStatus, 0, len(l.monitors))
	for name, m := range l.monitors {
		ok, age, lastErr := m.Healthy(now, m.maxAge)
		out = append(out, LoopStatus{Name: name, Healthy: ok, AgeMs: age.Milliseconds(), LastError: lastErr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
