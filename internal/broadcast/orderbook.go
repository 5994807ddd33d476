package broadcast

import (
	"context"
	"time"

	"trading-gateway/internal/monitor"
	"trading-gateway/internal/protocol"
	"trading-gateway/pkg/exchanges/common"
	"trading-gateway/pkg/logger"
)

const loopOrderBook = "orderbook"

// OrderBookSource fetches one order book snapshot.
type OrderBookSource interface {
	GetOrderBook(ctx context.Context, instrument string, depth int) (*common.Response, error)
}

// InstrumentSet yields the instruments to poll.
type InstrumentSet interface {
	Names() []string
}

type OrderBookConfig struct {
	Depth    int
	Interval time.Duration
	Monitor  *monitor.LoopMonitor
	Metrics  *monitor.Metrics
	// Now stamps each cycle; defaults to time.Now.
	Now func() time.Time
}

// OrderBookLoop polls every instrument each interval and broadcasts one
// orderbook_update per instrument. It makes no upstream calls while no
// client is connected.
type OrderBookLoop struct {
	venue       OrderBookSource
	instruments InstrumentSet
	hub         Audience
	cfg         OrderBookConfig
	log         *logger.Entry
}

func NewOrderBookLoop(venue OrderBookSource, instruments InstrumentSet, hub Audience, cfg OrderBookConfig) *OrderBookLoop {
	if cfg.Interval <= 0 {
		cfg.Interval = 25 * time.Millisecond
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OrderBookLoop{
		venue:       venue,
		instruments: instruments,
		hub:         hub,
		cfg:         cfg,
		log:         logger.GetLogger().WithComponent(loopOrderBook),
	}
}

// Run blocks until ctx is done. Cadence is wall clock, not the time a cycle
// takes; a slow cycle makes the ticker drop ticks rather than queue them.
func (l *OrderBookLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.log.WithFields(logger.Fields{"interval": l.cfg.Interval.String(), "depth": l.cfg.Depth}).Info("order book loop started")
	for {
		if l.hub.Len() == 0 {
			l.cfg.Monitor.Tick()
			select {
			case <-ctx.Done():
				return nil
			case <-l.hub.Changed():
			case <-ticker.C:
			}
			continue
		}

		l.Cycle(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle polls every instrument once under a single timestamp.
func (l *OrderBookLoop) Cycle(ctx context.Context) {
	ts := l.cfg.Now().UnixNano()
	for _, name := range l.instruments.Names() {
		if ctx.Err() != nil {
			return
		}
		l.publish(ctx, name, ts)
	}
	l.cfg.Monitor.Tick()
	l.cfg.Metrics.IncLoopCycle(loopOrderBook)
}

func (l *OrderBookLoop) publish(ctx context.Context, instrument string, ts int64) {
	resp, err := l.venue.GetOrderBook(context.WithoutCancel(ctx), instrument, l.cfg.Depth)
	if err != nil {
		l.cfg.Metrics.IncLoopError(loopOrderBook)
		l.cfg.Monitor.SetError(err)
		l.log.WithField("instrument", instrument).WithError(err).Warn("order book fetch failed")
		return
	}
	data, ok := resp.Result()
	if !ok || resp.HasError() {
		l.cfg.Metrics.IncLoopError(loopOrderBook)
		l.log.WithFields(logger.Fields{"instrument": instrument, "body_bytes": len(resp.Body)}).Debug("discarding malformed order book response")
		return
	}
	msg, err := protocol.NewOrderBookUpdate(instrument, ts, data)
	if err != nil {
		l.log.WithField("instrument", instrument).WithError(err).Debug("discarding unencodable order book")
		return
	}
	l.hub.Broadcast(msg)
	l.cfg.Metrics.IncBroadcast(protocol.TypeOrderBookUpdate)
}
