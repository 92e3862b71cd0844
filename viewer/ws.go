package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/canvas/canvas"
	"github.com/hazyhaar/canvas/shield"
)

// CloseSurfaceNotFound is the close code sent when a viewer asks for an
// unknown surface.
const CloseSurfaceNotFound = 4004

const maxReadSize = 4096

var errChannelClosed = errors.New("viewer: channel closed")

// wsChannel adapts a WebSocket connection to canvas.Channel. Writes are
// serialised by mu; Close may run concurrently with Send and makes a
// blocked write fail by closing the connection.
type wsChannel struct {
	id      string
	conn    *websocket.Conn
	timeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWSChannel(id string, conn *websocket.Conn, timeout time.Duration) *wsChannel {
	return &wsChannel{id: id, conn: conn, timeout: timeout, done: make(chan struct{})}
}

func (c *wsChannel) ID() string { return c.id }

func (c *wsChannel) Send(ctx context.Context, msg canvas.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame when no write is pending, then closes the
// connection. Safe to call more than once.
func (c *wsChannel) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *wsChannel) closeWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		// A Send in flight holds mu and may be stuck on a peer that stopped
		// reading. Skip the close frame then; closing the conn fails the write.
		if c.mu.TryLock() {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
			c.mu.Unlock()
		}
		err = c.conn.Close()
	})
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "surfaceID")
	logger := shield.GetLogger(r.Context()).With("surface_id", id)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("viewer: upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxReadSize)

	ch := newWSChannel(s.newID(), conn, s.cfg.WriteTimeout)
	if err := s.engine.Join(id, ch); err != nil {
		if errors.Is(err, canvas.ErrSurfaceNotFound) {
			ch.closeWith(CloseSurfaceNotFound, "Surface not found")
		} else {
			logger.Warn("viewer: join failed", "error", err)
			ch.closeWith(websocket.CloseInternalServerErr, "join failed")
		}
		return
	}
	logger.Info("viewer: connected", "channel_id", ch.id, "remote_addr", r.RemoteAddr)

	go s.ping(ch)
	s.readLoop(ch)

	s.engine.Leave(id, ch.id)
	ch.Close()
	logger.Info("viewer: disconnected", "channel_id", ch.id)
}

// readLoop discards client messages until the connection fails or the pong
// deadline passes.
func (s *Server) readLoop(ch *wsChannel) {
	wait := 2 * s.cfg.PingInterval
	ch.conn.SetReadDeadline(time.Now().Add(wait))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := ch.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) ping(ch *wsChannel) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			if err := ch.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				ch.Close()
				return
			}
		}
	}
}
