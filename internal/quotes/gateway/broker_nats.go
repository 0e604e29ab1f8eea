package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/metrics"
)

const natsBuffer = 8192

// NatsBroker relays between processes. Topics use ":" and map to "."
// subjects.
type NatsBroker struct {
	nc *nats.Conn
}

// NewNatsBroker connects and keeps reconnecting for the life of the process.
// opts are applied after the defaults.
func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	ctx := context.Background()
	base := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectHandler(func(nc *nats.Conn) {
			logger.Warn(ctx, "nats disconnected", zap.Error(nc.LastError()))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) Publish(_ context.Context, topic string, payload []byte) error {
	return b.nc.Publish(topicToSubject(topic), payload)
}

func (b *NatsBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	out := make(chan Message, natsBuffer)
	var mu sync.Mutex
	closed := false

	subs := make([]*nats.Subscription, 0, len(topics))
	for _, t := range topics {
		sub, err := b.nc.Subscribe(topicToSubject(t), func(m *nats.Msg) {
			msg := Message{Topic: subjectToTopic(m.Subject), Payload: m.Data}
			// never block the nats callback goroutine
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case out <- msg:
			default:
				metrics.IngestErrors.WithLabelValues("gateway", "drop").Inc()
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", t, err)
		}
		subs = append(subs, sub)
	}

	context.AfterFunc(ctx, func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		// a callback may still be running after Unsubscribe returns
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	})
	return out, nil
}

// Close flushes pending publishes before disconnecting.
func (b *NatsBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
func subjectToTopic(subj string) string  { return strings.ReplaceAll(subj, ".", ":") }
