package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"tickflow.com/internal/quotes/wsmetrics"
	"tickflow.com/pkg/logger"
)

// Subscriber receives live payloads. Send must honour ctx: it is the only
// bound the hub puts on a slow listener.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
}

const DefaultSendTimeout = 5 * time.Second

// Hub fans every broadcast out to all registered subscribers concurrently.
// A subscriber whose Send fails is dropped; the others are unaffected.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]entry
	gen  uint64

	SendTimeout time.Duration
}

// entry pins a subscriber to the registration that added it, so a late
// removal of an old registration never evicts its replacement.
type entry struct {
	sub Subscriber
	gen uint64
}

func NewHub() *Hub {
	return &Hub{
		subs:        make(map[string]entry, 64),
		SendTimeout: DefaultSendTimeout,
	}
}

// Register adds s under its ID, replacing any earlier subscriber with that ID.
// The returned func removes this registration only and may be called more
// than once.
func (h *Hub) Register(s Subscriber) (release func()) {
	id := s.ID()
	h.mu.Lock()
	_, exists := h.subs[id]
	h.gen++
	gen := h.gen
	h.subs[id] = entry{sub: s, gen: gen}
	n := len(h.subs)
	h.mu.Unlock()

	if !exists {
		wsmetrics.OnRegister(n)
	}
	return func() { h.remove(id, gen) }
}

// Unregister drops whatever is registered under s.ID(). Unknown IDs are
// ignored.
func (h *Hub) Unregister(s Subscriber) {
	h.remove(s.ID(), 0)
}

// remove deletes id; a non-zero gen must match the current registration.
func (h *Hub) remove(id string, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.subs[id]
	if !ok || (gen != 0 && cur.gen != gen) {
		return
	}
	delete(h.subs, id)
	wsmetrics.OnUnregister(len(h.subs))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) snapshot() []entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]entry, 0, len(h.subs))
	for _, e := range h.subs {
		out = append(out, e)
	}
	return out
}

// Broadcast delivers msg to the subscribers registered when it starts and
// returns how many deliveries succeeded. It waits for every send (each bounded
// by SendTimeout) before returning.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) int {
	subs := h.snapshot()
	if len(subs) == 0 {
		return 0
	}
	wsmetrics.FanoutSize.Observe(float64(len(subs)))

	var ok atomic.Int64
	var g errgroup.Group
	for _, e := range subs {
		s := e.sub
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, h.sendTimeout())
			defer cancel()

			if err := s.Send(sctx, msg); err != nil {
				logger.Debug(ctx, "drop subscriber", zap.String("sub", s.ID()), zap.Error(err))
				wsmetrics.DroppedTotal.WithLabelValues("send_error").Inc()
				h.remove(s.ID(), e.gen)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(ok.Load())
	wsmetrics.MsgsOutTotal.Add(float64(n))
	return n
}

// Publish lets the hub stand in wherever a Publisher is expected.
func (h *Hub) Publish(ctx context.Context, msg []byte) error {
	h.Broadcast(ctx, msg)
	return nil
}

func (h *Hub) sendTimeout() time.Duration {
	if h.SendTimeout <= 0 {
		return DefaultSendTimeout
	}
	return h.SendTimeout
}
