package monitor

import (
	"context"
	"fmt"
	"time"

	"trading-gateway/pkg/logger"
)

// Watchdog periodically checks the loops and alerts on health transitions.
type Watchdog struct {
	Loops    *Loops
	Sink     AlertSink
	Interval time.Duration

	unhealthy map[string]bool
}

// Run blocks until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	log := logger.GetLogger().WithComponent("watchdog")
	if w.Loops == nil || w.Sink == nil {
		log.Warn("watchdog not fully configured; skipping")
		return nil
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			w.Check(now)
		}
	}
}

// Check compares current loop health with the previous check and sends one
// alert per transition.
func (w *Watchdog) Check(now time.Time) {
	if w.unhealthy == nil {
		w.unhealthy = make(map[string]bool)
	}
	for _, st := range w.Loops.Status(now) {
		was := w.unhealthy[st.Name]
		switch {
		case !st.Healthy && !was:
			w.unhealthy[st.Name] = true
			_ = w.Sink.Send(formatAlert(now, st))
		case st.Healthy && was:
			delete(w.unhealthy, st.Name)
			_ = w.Sink.Send(fmt.Sprintf("[%s] loop %s recovered", now.Format(time.RFC3339), st.Name))
		}
	}
}

func formatAlert(now time.Time, st LoopStatus) string {
	msg := fmt.Sprintf("[%s] loop %s stalled (last tick %dms ago)", now.Format(time.RFC3339), st.Name, st.AgeMs)
	if st.AgeMs == 0 {
		msg = fmt.Sprintf("[%s] loop %s has not ticked", now.Format(time.RFC3339), st.Name)
	}
	if st.LastError != "" {
		msg += ": " + st.LastError
	}
	return msg
}
