package mdsource

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"tickflow.com/internal/quotes/datasource"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/storage"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/metrics"
)

type StreamState int32

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamSubscribing
	StreamStreaming
)

var streamStates = []StreamState{StreamDisconnected, StreamConnecting, StreamSubscribing, StreamStreaming}

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "disconnected"
	case StreamConnecting:
		return "connecting"
	case StreamSubscribing:
		return "subscribing"
	case StreamStreaming:
		return "streaming"
	}
	return fmt.Sprintf("StreamState(%d)", int32(s))
}

const DefaultReconnectDelay = 3 * time.Second

// Streamer keeps one push connection alive forever: connect, subscribe every
// symbol, stream; on any failure wait a fixed delay and start over.
type Streamer struct {
	stream  datasource.TradeStream
	emit    emitter
	symbols []string

	ReconnectDelay time.Duration
	now            func() time.Time
	state          atomic.Int32

	// OnState observes transitions (tests, metrics); may be nil.
	OnState func(StreamState)
}

// NewStreamer fixes the symbol set: it is sent once per connection.
func NewStreamer(stream datasource.TradeStream, store storage.TickStore, pub Publisher, symbols []string) *Streamer {
	return &Streamer{
		stream:         stream,
		emit:           emitter{source: "stream", store: store, pub: pub},
		symbols:        append([]string(nil), symbols...),
		ReconnectDelay: DefaultReconnectDelay,
		now:            time.Now,
	}
}

func (s *Streamer) State() StreamState { return StreamState(s.state.Load()) }

func (s *Streamer) set(ctx context.Context, st StreamState) {
	prev := StreamState(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	for _, x := range streamStates {
		v := 0.0
		if x == st {
			v = 1
		}
		metrics.StreamState.WithLabelValues(x.String()).Set(v)
	}
	logger.Debug(ctx, "stream state", zap.Stringer("from", prev), zap.Stringer("to", st))
	if s.OnState != nil {
		s.OnState(st)
	}
}

// Run returns only when ctx is done.
func (s *Streamer) Run(ctx context.Context) error {
	logger.Info(ctx, "streamer started", zap.String("source", s.stream.Name()), zap.Strings("symbols", s.symbols))
	for {
		err := s.session(ctx)
		s.set(ctx, StreamDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn(ctx, "stream disconnected, reconnecting",
			zap.Duration("in", s.ReconnectDelay), zap.Error(err))

		t := time.NewTimer(s.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session is one connection lifetime. It always returns a non-nil error.
func (s *Streamer) session(ctx context.Context) error {
	s.set(ctx, StreamConnecting)
	conn, err := s.stream.Dial(ctx)
	if err != nil {
		metrics.IngestErrors.WithLabelValues("stream", "dial").Inc()
		return err
	}
	defer conn.Close()

	s.set(ctx, StreamSubscribing)
	for _, sym := range s.symbols {
		if err := conn.Subscribe(ctx, sym); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}

	s.set(ctx, StreamStreaming)
	logger.Info(ctx, "stream connected", zap.Int("symbols", len(s.symbols)))
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handle(ctx, frame)
	}
}

func (s *Streamer) handle(ctx context.Context, frame []byte) {
	trades, err := s.stream.Decode(frame)
	if err != nil {
		metrics.IngestErrors.WithLabelValues("stream", "decode").Inc()
		logger.Debug(ctx, "skip unparseable frame", zap.Error(err))
		return
	}
	if len(trades) == 0 {
		return
	}

	now := s.now()
	batch := make([]model.Tick, 0, len(trades))
	for _, tr := range trades {
		if tr.Symbol == "" || !tr.HasPrice {
			continue
		}
		t := model.Tick{
			Ts:     model.NormalizeTs(tr.Ts, tr.HasTs, now),
			Symbol: tr.Symbol,
			Price:  tr.Price,
		}
		if s.emit.write(ctx, t) {
			batch = append(batch, t)
		}
	}
	s.emit.publish(ctx, batch)
}
