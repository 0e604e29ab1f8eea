package gateway

import (
	"context"

	"go.uber.org/zap"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/metrics"
)

// Broadcaster is the local fan-out the relay feeds (the ws hub).
type Broadcaster interface {
	Broadcast(ctx context.Context, msg []byte) int
}

// Gateway decouples ingestors from listeners: producers publish to the
// broker, Run relays broker messages into the local hub. With a NATS broker
// every node's hub sees every node's ticks.
type Gateway struct {
	hub    Broadcaster
	broker Broker
	topic  string
}

func NewGateway(hub Broadcaster, broker Broker) *Gateway {
	return &Gateway{hub: hub, broker: broker, topic: TopicPrices}
}

// Run blocks until ctx is done or the subscription ends.
func (g *Gateway) Run(ctx context.Context) error {
	ch, err := g.broker.Subscribe(ctx, []string{g.topic})
	if err != nil {
		return err
	}
	logger.Info(ctx, "gateway relay started", zap.String("topic", g.topic))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			g.hub.Broadcast(ctx, m.Payload)
		}
	}
}

// Publish implements the ingestors' Publisher.
func (g *Gateway) Publish(ctx context.Context, payload []byte) error {
	if err := g.broker.Publish(ctx, g.topic, payload); err != nil {
		metrics.IngestErrors.WithLabelValues("gateway", "publish").Inc()
		logger.Warn(ctx, "broker publish failed", zap.Error(err))
		return err
	}
	return nil
}
