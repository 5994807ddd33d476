package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trading-gateway/internal/auth"
	"trading-gateway/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	// ErrSendQueueFull is returned when a client is too slow to drain its
	// queue; the message is dropped for that client only.
	ErrSendQueueFull = errors.New("websocket send queue full")
	// ErrConnClosed is returned by Send after Close.
	ErrConnClosed = errors.New("websocket connection closed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn is one client. Send only enqueues; a single writer goroutine owns
// every write to the socket.
type wsConn struct {
	id       string
	clientID string
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	log      *logger.Entry
}

func newWSConn(ws *websocket.Conn, buffer int, clientID string) *wsConn {
	id := uuid.NewString()
	return &wsConn{
		id:       id,
		clientID: clientID,
		ws:       ws,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		log:      logger.GetLogger().WithComponent("ws").WithField("conn_id", id),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.WithError(err).Debug("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) websocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("ws upgrade error")
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	conn := newWSConn(ws, s.opts.SendBuffer, auth.CurrentClientID(c))
	s.opts.Hub.Register(conn)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writePump()
	}()

	conn.log.WithFields(logger.Fields{"remote": c.ClientIP(), "client_id": conn.clientID}).Info("client connected")
	defer func() {
		s.opts.Hub.Unregister(conn)
		conn.Close()
		<-writerDone
		conn.log.Info("client disconnected")
	}()

	ws.SetReadLimit(s.opts.MaxMessageBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := c.Request.Context()
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				conn.log.WithError(err).Debug("read failed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if s.opts.Handler != nil {
			s.opts.Handler.Handle(ctx, conn, msg)
		}
	}
}
