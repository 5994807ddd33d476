package broadcast

import (
	"context"
	"fmt"
	"time"

	"trading-gateway/internal/monitor"
	"trading-gateway/internal/protocol"
	"trading-gateway/pkg/exchanges/common"
	"trading-gateway/pkg/logger"
)

const loopPositions = "positions"

// PositionsSource fetches positions for one currency and kind.
type PositionsSource interface {
	GetPositions(ctx context.Context, token, currency, kind string) (*common.Response, error)
}

type PositionsConfig struct {
	Currencies []string
	Kinds      []string
	PairDelay  time.Duration
	PassDelay  time.Duration
	Monitor    *monitor.LoopMonitor
	Metrics    *monitor.Metrics
}

// PositionsLoop walks currencies x kinds and broadcasts one
// positions_update per pair, whether or not anyone is connected.
type PositionsLoop struct {
	venue  PositionsSource
	tokens TokenSource
	hub    Broadcaster
	cfg    PositionsConfig
	log    *logger.Entry
}

func NewPositionsLoop(venue PositionsSource, tokens TokenSource, hub Broadcaster, cfg PositionsConfig) *PositionsLoop {
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = []string{"BTC", "ETH"}
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = []string{"future", "option"}
	}
	if cfg.PassDelay <= 0 {
		cfg.PassDelay = time.Second
	}
	return &PositionsLoop{
		venue:  venue,
		tokens: tokens,
		hub:    hub,
		cfg:    cfg,
		log:    logger.GetLogger().WithComponent(loopPositions),
	}
}

// Run blocks until ctx is done.
func (l *PositionsLoop) Run(ctx context.Context) error {
	l.log.WithFields(logger.Fields{"currencies": l.cfg.Currencies, "kinds": l.cfg.Kinds}).Info("positions loop started")
	for {
		if !l.pass(ctx) {
			return nil
		}
		if !sleep(ctx, l.cfg.PassDelay) {
			return nil
		}
	}
}

// pass walks every pair once and reports false when ctx ended it early. The
// monitor error is the pass's first failure, cleared only by a clean pass.
func (l *PositionsLoop) pass(ctx context.Context) bool {
	var passErr error
	for _, currency := range l.cfg.Currencies {
		for _, kind := range l.cfg.Kinds {
			if ctx.Err() != nil {
				return false
			}
			if err := l.publish(ctx, currency, kind); err != nil && passErr == nil {
				passErr = fmt.Errorf("%s/%s: %w", currency, kind, err)
			}
			if !sleep(ctx, l.cfg.PairDelay) {
				return false
			}
		}
	}
	l.cfg.Monitor.SetError(passErr)
	l.cfg.Monitor.Tick()
	l.cfg.Metrics.IncLoopCycle(loopPositions)
	return true
}

func (l *PositionsLoop) publish(ctx context.Context, currency, kind string) error {
	msg, err := l.fetch(context.WithoutCancel(ctx), currency, kind)
	if err != nil {
		l.cfg.Metrics.IncLoopError(loopPositions)
		l.log.WithFields(logger.Fields{"currency": currency, "kind": kind}).WithError(err).Warn("positions fetch failed")
	}
	l.hub.Broadcast(msg)
	l.cfg.Metrics.IncBroadcast(protocol.TypePositionsUpdate)
	return err
}

// fetch always returns an envelope; on failure it carries the error text.
func (l *PositionsLoop) fetch(ctx context.Context, currency, kind string) ([]byte, error) {
	token, err := l.tokens.Get(ctx)
	if err != nil {
		return protocol.NewPositionsError(currency, kind, tokenFailureText(err)), err
	}
	resp, err := l.venue.GetPositions(ctx, token, currency, kind)
	if err != nil {
		if common.IsUnauthorized(err) {
			l.tokens.Invalidate(token)
		}
		return protocol.NewPositionsError(currency, kind, failureText(resp)), err
	}
	data, ok := resp.Result()
	if !ok {
		err = &common.Error{Kind: common.KindParse, Op: "private/get_positions", Msg: "response has no result"}
		return protocol.NewPositionsError(currency, kind, "Malformed upstream response"), err
	}
	msg, err := protocol.NewPositionsUpdate(currency, kind, data)
	if err != nil {
		return protocol.NewPositionsError(currency, kind, "Malformed upstream response"), err
	}
	return msg, nil
}
