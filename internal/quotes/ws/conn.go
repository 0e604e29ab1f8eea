package ws

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"tickflow.com/internal/quotes/wsmetrics"
	"tickflow.com/pkg/logger"
)

var ErrClosed = errors.New("ws: connection closed")

// Conn is a websocket client registered with the hub. Writes from the hub
// and from the ping loop share one mutex; gorilla allows one writer at a time.
type Conn struct {
	id string
	ws *websocket.Conn

	writeMu   sync.Mutex
	writeWait time.Duration

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(ws *websocket.Conn, writeWait time.Duration) *Conn {
	return &Conn{
		id:        uuid.NewString(),
		ws:        ws,
		writeWait: writeWait,
		done:      make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Send writes one text frame. The deadline is the earlier of ctx's and the
// connection's own write timeout.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(deadline)
	err := c.ws.WriteMessage(websocket.TextMessage, msg)
	c.writeMu.Unlock()
	wsmetrics.ObserveWrite(len(msg), time.Since(start), err)

	if err != nil {
		c.Close()
		return err
	}
	return nil
}

func (c *Conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeWait))
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.ws.Close()
	})
}

type Server struct {
	Hub      *Hub
	Upgrader websocket.Upgrader
	ctx      context.Context

	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

func NewServer(ctx context.Context, h *Hub, allowedOrigins []string) *Server {
	return &Server{
		Hub: h,
		ctx: ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 100 * time.Millisecond,
		WriteWait:  5 * time.Second,
		ReadLimit:  1 << 10,
	}
}

// originChecker allows everything when no origins are configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeWS upgrades, registers the client with the hub and returns; the
// connection lives in its own goroutines until it fails or ctx ends.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "ws upgrade failed", zap.Error(err))
		return
	}
	c := NewConn(wsConn, s.WriteWait)
	release := s.Hub.Register(c)
	wsmetrics.OnOpen()
	logger.Info(s.ctx, "ws client connected", zap.String("conn", c.ID()), zap.String("remote", r.RemoteAddr))

	go s.pingLoop(c)
	go s.readPump(c, release)
}

// readPump discards client frames (keepalive text is allowed) and tears the
// connection down on the first read error.
func (s *Server) readPump(c *Conn, release func()) {
	code, reason := websocket.CloseAbnormalClosure, "read_error"
	defer func() {
		release()
		c.Close()
		wsmetrics.OnClose(code, reason)
		logger.Info(s.ctx, "ws client gone", zap.String("conn", c.ID()), zap.String("reason", reason))
	}()

	stop := context.AfterFunc(s.ctx, c.Close)
	defer stop()

	c.ws.SetReadLimit(s.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		wsmetrics.PongRecvTotal.Inc()
		_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			var ne net.Error
			switch {
			case errors.As(err, &ce):
				code, reason = ce.Code, "client_close"
			case errors.As(err, &ne) && ne.Timeout():
				wsmetrics.PongTimeoutTotal.Inc()
				reason = "pong_timeout"
			case s.ctx.Err() != nil:
				code, reason = websocket.CloseGoingAway, "shutdown"
			}
			return
		}
		// any client frame counts as liveness
		_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	}
}

func (s *Server) pingLoop(c *Conn) {
	if s.PingJitter > 0 {
		t := time.NewTimer(time.Duration(rand.Int63n(int64(s.PingJitter))))
		select {
		case <-t.C:
		case <-c.done:
			t.Stop()
			return
		}
	}

	ticker := time.NewTicker(s.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			wsmetrics.PingSentTotal.Inc()
			if err := c.ping(); err != nil {
				wsmetrics.PingErrorsTotal.Inc()
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
