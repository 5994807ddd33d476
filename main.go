package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"trading-gateway/internal/api"
	"trading-gateway/internal/auth"
	"trading-gateway/internal/broadcast"
	"trading-gateway/internal/dispatch"
	"trading-gateway/internal/hub"
	"trading-gateway/internal/instruments"
	"trading-gateway/internal/monitor"
	"trading-gateway/pkg/config"
	"trading-gateway/pkg/exchanges/deribit"
	"trading-gateway/pkg/logger"
)

const (
	venueName      = "deribit"
	watchdogPeriod = 15 * time.Second
	startupTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.GetLogger().Configure(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput, cfg.LogMaxAge); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := monitor.NewMetrics()
	logger.SetRecorder(metrics.RecordLog)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	instanceID := monitor.InstanceID()
	log := logger.GetLogger().WithComponent("main").WithFields(logger.Fields{
		"instance_id": instanceID,
		"version":     buildVersion,
	})
	log.WithFields(logger.Fields{
		"port":     cfg.Port,
		"upstream": cfg.UpstreamBaseURL,
	}).Info("starting gateway")
	if !cfg.HasCredentials() {
		log.Warn("upstream credentials not configured; private commands and loops will report token failures")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	venue := deribit.NewClient(deribit.Config{
		BaseURL:          cfg.UpstreamBaseURL,
		ClientID:         cfg.ClientID,
		ClientSecret:     cfg.ClientSecret,
		Timeout:          cfg.UpstreamTimeout,
		OrderBookTimeout: cfg.OrderBookTimeout,
		OrderTimeout:     cfg.OrderTimeout,
		RateLimit:        cfg.UpstreamRateLimit,
		RateBurst:        cfg.UpstreamRateBurst,
	}, deribit.WithObserver(metrics.ObserveUpstream), deribit.WithHTTPClient(upstreamHTTPClient(cfg)))
	tokens := auth.NewTokenCache(venue, cfg.TokenTTL, auth.WithMetrics(metrics))
	registry := hub.NewRegistry(metrics)

	startCtx, cancelStart := context.WithTimeout(ctx, startupTimeout)
	instrumentSet := instruments.Load(startCtx, venue, cfg.InstrumentCurrency, cfg.InstrumentKind)
	cancelStart()

	loops := monitor.NewLoops()
	bookMon := loops.Add("orderbook", 30*time.Second)
	positionsMon := loops.Add("positions", 2*time.Minute)
	ordersMon := loops.Add("open_orders", 3*cfg.OpenOrdersInterval+cfg.UpstreamTimeout)

	bookLoop := broadcast.NewOrderBookLoop(venue, instrumentSet, registry, broadcast.OrderBookConfig{
		Depth:    cfg.OrderBookDepth,
		Interval: cfg.OrderBookInterval,
		Monitor:  bookMon,
		Metrics:  metrics,
	})
	positionsLoop := broadcast.NewPositionsLoop(venue, tokens, registry, broadcast.PositionsConfig{
		Currencies: cfg.PositionCurrencies,
		Kinds:      cfg.PositionKinds,
		PairDelay:  cfg.PositionsPairDelay,
		PassDelay:  cfg.PositionsPassDelay,
		Monitor:    positionsMon,
		Metrics:    metrics,
	})
	ordersLoop := broadcast.NewOpenOrdersLoop(venue, tokens, registry, broadcast.OpenOrdersConfig{
		Currency: cfg.OpenOrdersCurrency,
		Interval: cfg.OpenOrdersInterval,
		Monitor:  ordersMon,
		Metrics:  metrics,
	})

	latency := monitor.NewLatencyHistogram(1000)
	dispatcher := dispatch.New(venue, tokens, ordersLoop, dispatch.Config{
		Metrics: metrics,
		Latency: latency,
	})

	server := api.NewServer(api.Options{
		Hub:     registry,
		Handler: dispatcher,
		Tokens:  tokens,
		Loops:   loops,
		Metrics: metrics,
		Latency: latency,
		Meta: api.SystemMeta{
			InstanceID:  instanceID,
			Venue:       venueName,
			Version:     buildVersion,
			Instruments: instrumentSet.Len,
		},
		JWTSecret:       cfg.JWTSecret,
		SendBuffer:      cfg.WSSendBuffer,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
		UpgradeRate:     cfg.WSUpgradeRate,
		UpgradeBurst:    cfg.WSUpgradeBurst,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx, ":"+cfg.Port) })
	g.Go(func() error { return bookLoop.Run(gctx) })
	g.Go(func() error { return positionsLoop.Run(gctx) })
	g.Go(func() error { return ordersLoop.Run(gctx) })
	if cfg.InstrumentRefreshInterval > 0 {
		refresher := &instruments.Refresher{
			Set:      instrumentSet,
			Source:   venue,
			Currency: cfg.InstrumentCurrency,
			Kind:     cfg.InstrumentKind,
			Interval: cfg.InstrumentRefreshInterval,
			Timeout:  cfg.UpstreamTimeout,
			Monitor:  loops.Add("instruments", 2*cfg.InstrumentRefreshInterval+cfg.UpstreamTimeout),
		}
		g.Go(func() error { return refresher.Run(gctx) })
	}
	watchdog := &monitor.Watchdog{Loops: loops, Sink: monitor.NewLogSink(), Interval: watchdogPeriod}
	g.Go(func() error { return watchdog.Run(gctx) })

	err = g.Wait()
	if err != nil {
		log.WithError(err).Error("gateway stopped with error")
		return err
	}
	log.Info("gateway stopped")
	return nil
}

// upstreamHTTPClient keeps enough idle connections for the order-book loop,
// which polls every instrument against the same host each cycle.
func upstreamHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 64
	transport.MaxIdleConnsPerHost = 32
	transport.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: transport}
}
