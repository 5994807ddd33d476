package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"trading-gateway/internal/monitor"
	"trading-gateway/internal/protocol"
	"trading-gateway/pkg/exchanges/common"
	"trading-gateway/pkg/logger"
)

const loopOpenOrders = "open_orders"

// OpenOrdersSource lists open orders for a currency.
type OpenOrdersSource interface {
	GetOpenOrders(ctx context.Context, token, currency string) (*common.Response, error)
}

type OpenOrdersConfig struct {
	Currency string
	Interval time.Duration
	Monitor  *monitor.LoopMonitor
	Metrics  *monitor.Metrics
}

// OpenOrdersLoop broadcasts the open-order list on a fixed cadence and on
// demand through Publish.
type OpenOrdersLoop struct {
	venue  OpenOrdersSource
	tokens TokenSource
	hub    Broadcaster
	cfg    OpenOrdersConfig
	log    *logger.Entry

	// serializes scheduled and out-of-band publishes
	mu sync.Mutex
}

func NewOpenOrdersLoop(venue OpenOrdersSource, tokens TokenSource, hub Broadcaster, cfg OpenOrdersConfig) *OpenOrdersLoop {
	if cfg.Currency == "" {
		cfg.Currency = "BTC"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &OpenOrdersLoop{
		venue:  venue,
		tokens: tokens,
		hub:    hub,
		cfg:    cfg,
		log:    logger.GetLogger().WithComponent(loopOpenOrders),
	}
}

// Run publishes immediately and then every interval until ctx is done.
func (l *OpenOrdersLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.log.WithFields(logger.Fields{"currency": l.cfg.Currency, "interval": l.cfg.Interval.String()}).Info("open orders loop started")
	for {
		if err := l.Publish(ctx); err == nil {
			l.cfg.Metrics.IncLoopCycle(loopOpenOrders)
		}
		l.cfg.Monitor.Tick()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Publish fetches the open orders and broadcasts one open_orders_update,
// carrying either the whole upstream reply or an error. It returns the
// fetch error, if any, after broadcasting.
func (l *OpenOrdersLoop) Publish(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg, err := l.fetch(context.WithoutCancel(ctx))
	if err != nil {
		l.cfg.Metrics.IncLoopError(loopOpenOrders)
		l.cfg.Monitor.SetError(err)
		l.log.WithField("currency", l.cfg.Currency).WithError(err).Warn("open orders fetch failed")
	} else {
		l.cfg.Monitor.SetError(nil)
	}
	l.hub.Broadcast(msg)
	l.cfg.Metrics.IncBroadcast(protocol.TypeOpenOrdersUpdate)
	return err
}

func (l *OpenOrdersLoop) fetch(ctx context.Context) ([]byte, error) {
	token, err := l.tokens.Get(ctx)
	if err != nil {
		return protocol.NewOpenOrdersError(tokenFailureText(err)), err
	}
	resp, err := l.venue.GetOpenOrders(ctx, token, l.cfg.Currency)
	if err != nil {
		if common.IsUnauthorized(err) {
			l.tokens.Invalidate(token)
		}
		return protocol.NewOpenOrdersError(failureText(resp)), err
	}
	if !json.Valid(resp.Body) {
		err = &common.Error{Kind: common.KindParse, Op: "private/get_open_orders_by_currency", Msg: "invalid JSON body"}
		return protocol.NewOpenOrdersError("Malformed upstream response"), err
	}
	msg, err := protocol.NewOpenOrdersUpdate(resp.Body)
	if err != nil {
		return protocol.NewOpenOrdersError("Malformed upstream response"), err
	}
	return msg, nil
}
