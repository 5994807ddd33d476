package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"trading-gateway/internal/auth"
	"trading-gateway/internal/dispatch"
	"trading-gateway/internal/hub"
	"trading-gateway/internal/monitor"
	"trading-gateway/pkg/logger"
)

// MessageHandler consumes one inbound client message.
type MessageHandler interface {
	Handle(ctx context.Context, conn dispatch.Replier, raw []byte)
}

// TokenStatus reports the upstream token state for /health.
type TokenStatus interface {
	Status() auth.Status
}

// SystemMeta describes the running gateway on /health.
type SystemMeta struct {
	InstanceID string
	Venue      string
	Version    string
	// Instruments reports the size of the polled instrument set.
	Instruments func() int
}

type Options struct {
	Hub     *hub.Registry
	Handler MessageHandler
	Tokens  TokenStatus
	Loops   *monitor.Loops
	Metrics *monitor.Metrics
	Latency *monitor.LatencyHistogram
	Meta    SystemMeta

	JWTSecret       string
	SendBuffer      int
	MaxMessageBytes int64
	UpgradeRate     float64
	UpgradeBurst    int
	ShutdownTimeout time.Duration
}

// Server wires the websocket endpoint and operational routes.
type Server struct {
	Router *gin.Engine
	opts   Options
	log    *logger.Entry

	// live websocket handlers; hijacked connections are invisible to
	// http.Server.Shutdown
	conns sync.WaitGroup
}

func NewServer(opts Options) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 << 10
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(CORSMiddleware())

	s := &Server{
		Router: r,
		opts:   opts,
		log:    logger.GetLogger().WithComponent("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	s.Router.GET("/ws",
		RateLimitMiddleware(s.opts.UpgradeRate, s.opts.UpgradeBurst),
		auth.Middleware(s.opts.JWTSecret),
		s.websocket,
	)
}

func (s *Server) health(c *gin.Context) {
	now := time.Now()
	status := "ok"
	var loops []monitor.LoopStatus
	if s.opts.Loops != nil {
		loops = s.opts.Loops.Status(now)
		for _, l := range loops {
			if !l.Healthy {
				status = "degraded"
			}
		}
	}
	body := gin.H{
		"status":      status,
		"instance_id": s.opts.Meta.InstanceID,
		"venue":       s.opts.Meta.Venue,
		"version":     s.opts.Meta.Version,
		"connections": s.opts.Hub.Len(),
		"loops":       loops,
		"dispatch_ms": s.opts.Latency.Stats(),
		"time":        now.UTC().Format(time.RFC3339),
	}
	if s.opts.Meta.Instruments != nil {
		body["instruments"] = s.opts.Meta.Instruments()
	}
	if s.opts.Tokens != nil {
		body["token"] = s.opts.Tokens.Status()
	}
	c.JSON(http.StatusOK, body)
}

// Serve listens on addr and serves until ctx is done. Failing to bind is
// returned at once.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is done, then shuts down: the HTTP
// server stops accepting, every websocket is closed and its handler joined,
// all within the shutdown timeout.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.WithField("addr", ln.Addr().String()).Info("gateway listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.CloseAll()

	joined := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-shutdownCtx.Done():
		s.log.Warn("timed out waiting for websocket handlers")
	}
	<-errCh
	s.log.Info("gateway stopped listening")
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// CloseAll closes every registered connection.
func (s *Server) CloseAll() {
	for _, c := range s.opts.Hub.Snapshot() {
		if closer, ok := c.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}
