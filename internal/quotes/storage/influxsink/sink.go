package influxsink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/storage"
	"tickflow.com/pkg/logger"
)

const measurement = "prices"

type Config struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`

	// write tuning
	BatchSize     uint          `mapstructure:"batch_size"`     // 1000~5000 is a good start
	FlushInterval time.Duration `mapstructure:"flush_interval"` // e.g. 1s
	UseGzip       bool          `mapstructure:"use_gzip"`
}

// Sink mirrors ticks into InfluxDB. Writes are asynchronous and batched by the
// client, so Append never blocks on the network and never reports a write
// error; those are drained from Errors() and logged.
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
	query  api.QueryAPI
	bucket string
}

var _ storage.TickStore = (*Sink)(nil)

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 1 * time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	s := &Sink{
		client: c,
		write:  c.WriteAPI(cfg.Org, cfg.Bucket),
		query:  c.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
	}

	// Errors() must be consumed or the async writer can block.
	go func() {
		for err := range s.write.Errors() {
			logger.Warn(context.Background(), "influx write error", zap.Error(err))
		}
	}()

	return s
}

// Close flushes the write buffer.
func (s *Sink) Close() {
	s.write.Flush()
	s.client.Close()
}

func Point(t model.Tick) *write.Point {
	return write.NewPoint(measurement,
		map[string]string{"symbol": t.Symbol},
		map[string]interface{}{"price": t.Price},
		t.Ts.UTC(),
	)
}

func (s *Sink) Append(_ context.Context, t model.Tick) error {
	s.write.WritePoint(Point(t))
	return nil
}

func (s *Sink) AppendBatch(_ context.Context, ticks []model.Tick) error {
	for _, t := range ticks {
		s.write.WritePoint(Point(t))
	}
	return nil
}

// QueryRange reads back through Flux. Influx keeps one point per
// (series, timestamp), so duplicates written at the same instant collapse.
func (s *Sink) QueryRange(ctx context.Context, symbol string, start, end time.Time) ([]model.Tick, error) {
	res, err := s.query.Query(ctx, RangeQuery(s.bucket, symbol, start, end))
	if err != nil {
		return nil, fmt.Errorf("influx query %s: %w", symbol, err)
	}
	defer res.Close()

	var out []model.Tick
	for res.Next() {
		rec := res.Record()
		price, ok := rec.Value().(float64)
		if !ok {
			continue
		}
		out = append(out, model.Tick{Ts: rec.Time().UTC(), Symbol: symbol, Price: price})
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("influx read %s: %w", symbol, err)
	}
	return out, nil
}

// RangeQuery builds the Flux query for [start, end]; Flux stop is exclusive.
func RangeQuery(bucket, symbol string, start, end time.Time) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.symbol == %q and r._field == "price")
  |> sort(columns: ["_time"])`,
		bucket,
		start.UTC().Format(time.RFC3339Nano),
		end.UTC().Add(time.Nanosecond).Format(time.RFC3339Nano),
		measurement, symbol)
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}
