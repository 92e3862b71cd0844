// Package hub fans surface notifications out to connected viewers.
//
// Every subscriber owns a bounded FIFO outbox drained by its own goroutine,
// so a slow viewer never blocks a publisher or its peers. A subscriber whose
// outbox is full is disconnected; on reconnect it receives a fresh snapshot.
// Callers serialise Publish, Join and CloseTopic per surface, which gives
// every viewer of a surface the same message order.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hazyhaar/canvas/observability"
)

// DefaultBuffer is the outbox capacity per subscriber.
const DefaultBuffer = 64

var (
	// ErrClosed is returned by Join for a topic that has been closed.
	ErrClosed = errors.New("hub: topic closed")
	// ErrDuplicate is returned by Join for a channel id already subscribed.
	ErrDuplicate = errors.New("hub: channel already joined")
)

// Channel is a viewer connection. Close must be idempotent, safe to call
// concurrently with Send, and must unblock a pending Send.
type Channel interface {
	ID() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Hub tracks viewer subscriptions per surface id.
type Hub struct {
	topics *xsync.MapOf[string, *topic]
	// index maps channel id to surface id.
	index *xsync.MapOf[string, string]

	buffer  int
	logger  *slog.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type topic struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	closed bool
}

type subscriber struct {
	ch     Channel
	outbox chan Message
	stop   chan struct{}
	once   sync.Once
}

func (s *subscriber) halt() { s.once.Do(func() { close(s.stop) }) }

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the outbox capacity. Values below 1 are raised to 1.
func WithBuffer(n int) Option { return func(h *Hub) { h.buffer = max(n, 1) } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Hub) { h.logger = l } }

// WithMetrics records broadcasts, drops and viewer counts.
func WithMetrics(m *observability.Metrics) Option { return func(h *Hub) { h.metrics = m } }

// New returns an empty hub.
func New(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		topics: xsync.NewMapOf[string, *topic](),
		index:  xsync.NewMapOf[string, string](),
		buffer: DefaultBuffer,
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Hub) topic(surfaceID string) *topic {
	t, _ := h.topics.LoadOrCompute(surfaceID, func() *topic {
		return &topic{subs: make(map[string]*subscriber)}
	})
	return t
}

// Join enqueues snapshot as the first message for ch, then subscribes it.
func (h *Hub) Join(surfaceID string, ch Channel, snapshot Message) error {
	t := h.topic(surfaceID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if _, ok := t.subs[ch.ID()]; ok {
		return ErrDuplicate
	}

	s := &subscriber{
		ch:     ch,
		outbox: make(chan Message, h.buffer),
		stop:   make(chan struct{}),
	}
	s.outbox <- snapshot

	t.subs[ch.ID()] = s
	h.index.Store(ch.ID(), surfaceID)
	h.metrics.AddViewers(1)

	h.wg.Add(1)
	go h.pump(surfaceID, s)
	return nil
}

// Leave unsubscribes the channel. Its pump stops and closes the channel.
func (h *Hub) Leave(surfaceID, channelID string) {
	t, ok := h.topics.Load(surfaceID)
	if !ok {
		return
	}
	t.mu.Lock()
	s, ok := t.subs[channelID]
	if ok {
		delete(t.subs, channelID)
		h.index.Delete(channelID)
	}
	t.mu.Unlock()
	if ok {
		s.halt()
		s.ch.Close()
		h.metrics.AddViewers(-1)
	}
}

// SurfaceOf returns the surface a channel is subscribed to.
func (h *Hub) SurfaceOf(channelID string) (string, bool) {
	return h.index.Load(channelID)
}

// Publish enqueues msg to every subscriber of the surface and returns how
// many accepted it. Subscribers with a full outbox are disconnected.
func (h *Hub) Publish(surfaceID string, msg Message) int {
	t, ok := h.topics.Load(surfaceID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0
	}

	n := 0
	for id, s := range t.subs {
		select {
		case s.outbox <- msg:
			n++
		default:
			delete(t.subs, id)
			h.index.Delete(id)
			h.evict(s)
			h.metrics.AddViewers(-1)
			h.metrics.ViewerDropped()
			h.logger.Warn("viewer outbox full, disconnecting",
				"surface_id", surfaceID, "channel_id", id, "revision", msg.Revision)
		}
	}
	h.metrics.Broadcast(n)
	return n
}

// CloseTopic delivers msg as the last message to every subscriber and
// forgets the surface. Later Publish calls for it are no-ops.
func (h *Hub) CloseTopic(surfaceID string, msg Message) {
	t, ok := h.topics.LoadAndDelete(surfaceID)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, s := range t.subs {
		select {
		case s.outbox <- msg:
		default:
			h.evict(s)
		}
		close(s.outbox)
		h.index.Delete(id)
		h.metrics.AddViewers(-1)
	}
	h.metrics.Broadcast(len(t.subs))
	t.subs = nil
}

// Count returns the number of subscribers of a surface.
func (h *Hub) Count(surfaceID string) int {
	t, ok := h.topics.Load(surfaceID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close disconnects every subscriber and waits for the pumps to exit.
func (h *Hub) Close() {
	h.topics.Range(func(id string, t *topic) bool {
		t.mu.Lock()
		for _, s := range t.subs {
			h.evict(s)
			h.metrics.AddViewers(-1)
		}
		t.subs = make(map[string]*subscriber)
		t.mu.Unlock()
		return true
	})
	h.cancel()
	h.wg.Wait()
}

// pump delivers the outbox in order until it is closed or the subscriber is
// halted, then closes the channel.
func (h *Hub) pump(surfaceID string, s *subscriber) {
	defer h.wg.Done()
	defer s.ch.Close()
	for {
		// A halted subscriber stops even if messages are still queued.
		select {
		case <-s.stop:
			return
		default:
		}
		select {
		case <-s.stop:
			return
		case msg, ok := <-s.outbox:
			if !ok {
				return
			}
			if err := s.ch.Send(h.ctx, msg); err != nil {
				h.logger.Debug("viewer send failed", "surface_id", surfaceID,
					"channel_id", s.ch.ID(), "error", err)
				h.dropAfterSendFailure(surfaceID, s)
				return
			}
		}
	}
}

// evict halts s and closes its channel on a separate goroutine. Callers
// hold the topic lock, and a channel stuck in a write may take until its
// deadline to close.
func (h *Hub) evict(s *subscriber) {
	s.halt()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.ch.Close()
	}()
}

func (h *Hub) dropAfterSendFailure(surfaceID string, s *subscriber) {
	t, ok := h.topics.Load(surfaceID)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.subs[s.ch.ID()]; ok && cur == s {
		delete(t.subs, s.ch.ID())
		h.index.Delete(s.ch.ID())
		h.metrics.AddViewers(-1)
		h.metrics.ViewerDropped()
	}
	s.halt()
}
