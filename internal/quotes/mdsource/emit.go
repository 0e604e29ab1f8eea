package mdsource

import (
	"context"

	"go.uber.org/zap"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/storage"
	"tickflow.com/internal/quotes/ws"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/metrics"
)

// Publisher carries one encoded live frame to listeners: the ws hub directly,
// or a gateway broker in front of it.
type Publisher interface {
	Publish(ctx context.Context, msg []byte) error
}

// Symbol maps the upstream ticker to the name ticks are stored under.
type Symbol struct {
	API   string `mapstructure:"api" validate:"required"`
	Store string `mapstructure:"store"`
}

func (s Symbol) StoreName() string {
	if s.Store == "" {
		return s.API
	}
	return s.Store
}

// emitter is the write-then-publish tail shared by both ingestors.
type emitter struct {
	source string // metrics label
	store  storage.TickStore
	pub    Publisher
}

// write appends one tick; a store failure drops only that tick.
func (e emitter) write(ctx context.Context, t model.Tick) bool {
	if err := e.store.Append(ctx, t); err != nil {
		metrics.IngestErrors.WithLabelValues(e.source, "store").Inc()
		logger.Warn(ctx, "store append failed, tick dropped",
			zap.String("source", e.source), zap.String("symbol", t.Symbol), zap.Error(err))
		return false
	}
	metrics.TicksIngested.WithLabelValues(e.source).Inc()
	return true
}

// publish sends the batch as one frame. Nothing is sent for an empty batch.
func (e emitter) publish(ctx context.Context, batch []model.Tick) {
	if len(batch) == 0 || e.pub == nil {
		return
	}
	msg, err := ws.EncodePrices(batch)
	if err != nil {
		metrics.IngestErrors.WithLabelValues(e.source, "encode").Inc()
		logger.Error(ctx, "encode live frame failed", zap.Error(err))
		return
	}
	if err := e.pub.Publish(ctx, msg); err != nil {
		metrics.IngestErrors.WithLabelValues(e.source, "publish").Inc()
		logger.Warn(ctx, "publish failed", zap.String("source", e.source), zap.Error(err))
	}
}
