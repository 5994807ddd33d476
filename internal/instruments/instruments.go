// Package instruments holds the set of instrument names the order book
// loop polls.
package instruments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"trading-gateway/internal/monitor"
	"trading-gateway/pkg/exchanges/common"
	"trading-gateway/pkg/logger"
)

// Source lists instruments upstream.
type Source interface {
	GetInstruments(ctx context.Context, currency, kind string) (*common.Response, error)
}

// Set is an immutable list of names behind an atomic pointer. Readers get a
// snapshot that later Replace calls never mutate.
type Set struct {
	names atomic.Pointer[[]string]
}

func NewSet(names []string) *Set {
	s := &Set{}
	s.Replace(names)
	return s
}

// Names returns the current snapshot. Callers must not modify it.
func (s *Set) Names() []string {
	if p := s.names.Load(); p != nil {
		return *p
	}
	return nil
}

// Replace swaps in a copy of names.
func (s *Set) Replace(names []string) {
	cp := append([]string(nil), names...)
	s.names.Store(&cp)
}

func (s *Set) Len() int {
	return len(s.Names())
}

type instrumentsResult struct {
	Result []struct {
		InstrumentName string `json:"instrument_name"`
	} `json:"result"`
}

// Fetch asks the venue for instrument names of one currency and kind.
func Fetch(ctx context.Context, src Source, currency, kind string) ([]string, error) {
	resp, err := src.GetInstruments(ctx, currency, kind)
	if err != nil {
		return nil, fmt.Errorf("fetch instruments %s/%s: %w", currency, kind, err)
	}
	var parsed instrumentsResult
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, &common.Error{Kind: common.KindParse, Op: "public/get_instruments", Err: err}
	}
	names := make([]string, 0, len(parsed.Result))
	for _, in := range parsed.Result {
		if in.InstrumentName != "" {
			names = append(names, in.InstrumentName)
		}
	}
	return names, nil
}

// Load fetches the startup set. A failure is logged and yields an empty set
// so the gateway still serves commands.
func Load(ctx context.Context, src Source, currency, kind string) *Set {
	log := logger.GetLogger().WithComponent("instruments")
	names, err := Fetch(ctx, src, currency, kind)
	if err != nil {
		log.WithError(err).Error("failed to load instruments; order book loop has nothing to poll")
		return NewSet(nil)
	}
	log.WithFields(logger.Fields{"currency": currency, "kind": kind, "count": len(names)}).Info("instruments loaded")
	return NewSet(names)
}

// Refresher periodically reloads the set. A failed reload keeps the
// previous names.
type Refresher struct {
	Set      *Set
	Source   Source
	Currency string
	Kind     string
	Interval time.Duration
	Timeout  time.Duration
	Monitor  *monitor.LoopMonitor
}

func (r *Refresher) Run(ctx context.Context) error {
	if r.Interval <= 0 {
		return nil
	}
	log := logger.GetLogger().WithComponent("instruments")
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		names, err := r.fetch(ctx)
		r.apply(log, names, err)
	}
}

// fetch runs detached from shutdown so an in-flight reload is not torn.
func (r *Refresher) fetch(ctx context.Context) ([]string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return Fetch(callCtx, r.Source, r.Currency, r.Kind)
}

func (r *Refresher) apply(log *logger.Entry, names []string, err error) {
	r.Monitor.Tick()
	r.Monitor.SetError(err)
	if err != nil {
		log.WithError(err).Warn("instrument refresh failed; keeping previous set")
		return
	}
	if len(names) != r.Set.Len() {
		log.WithFields(logger.Fields{"before": r.Set.Len(), "after": len(names)}).Info("instrument set changed")
	}
	r.Set.Replace(names)
}
