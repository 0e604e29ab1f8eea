package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"tickflow.com/internal/quotes/backfill"
	"tickflow.com/internal/quotes/config"
	"tickflow.com/internal/quotes/datasource/finnhub"
	"tickflow.com/internal/quotes/datasource/yahoo"
	"tickflow.com/internal/quotes/gateway"
	"tickflow.com/internal/quotes/handler"
	qhttp "tickflow.com/internal/quotes/http"
	"tickflow.com/internal/quotes/kline"
	"tickflow.com/internal/quotes/mdsource"
	"tickflow.com/internal/quotes/storage"
	"tickflow.com/internal/quotes/storage/influxsink"
	"tickflow.com/internal/quotes/storage/memstore"
	"tickflow.com/internal/quotes/storage/pgstore"
	"tickflow.com/internal/quotes/storage/rediscache"
	"tickflow.com/internal/quotes/ws"
	vipConfig "tickflow.com/pkg/config"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/metrics"
	"tickflow.com/pkg/orm"
	"tickflow.com/pkg/safe"
	"tickflow.com/pkg/trace"
	"tickflow.com/pkg/xredis"
)

const poolStatsEvery = 5 * time.Second

type App struct {
	ctx context.Context
	cfg config.Cfg
	// symbols follows config hot reloads; everything else is read once
	symbols atomic.Pointer[[]mdsource.Symbol]

	db     *gorm.DB
	rdb    *redis.Client
	influx *influxsink.Sink
	broker gateway.Broker

	store storage.TickStore
	cache *rediscache.Cache
	hub   *ws.Hub
	pub   mdsource.Publisher

	traceShutdown func(context.Context) error
}

func New(configName string) (*App, error) {
	if configName == "" {
		configName = config.ServiceName
	}
	app := &App{}
	cfg := config.Default()
	_, err := vipConfig.LoadAndWatch(configName, &cfg, vipConfig.Options{
		// runs on the watcher goroutine, the only writer of cfg
		OnChange: func() { app.setSymbols(cfg.Poll.Symbols) },
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.cfg = cfg
	app.setSymbols(cfg.Poll.Symbols)
	return app, nil
}

func (app *App) setSymbols(s []mdsource.Symbol) {
	cp := append([]mdsource.Symbol(nil), s...)
	app.symbols.Store(&cp)
}

func (app *App) pollSymbols() []mdsource.Symbol { return *app.symbols.Load() }

// StartService connects every backend and returns the matching cleanup.
func (app *App) StartService(ctx context.Context) (func(), error) {
	app.ctx = ctx
	logger.InitWithConfig(app.cfg.Log)
	metrics.MustRegister()

	cleanUp := func() {
		if app.influx != nil {
			app.influx.Close()
		}
		if app.broker != nil {
			_ = app.broker.Close()
		}
		if app.rdb != nil {
			_ = app.rdb.Close()
		}
		if app.db != nil {
			if sqlDB, err := app.db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		if app.traceShutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = app.traceShutdown(shutdownCtx)
			cancel()
		}
		logger.Sync()
	}

	steps := []func() error{app.startTrace, app.startStore, app.startRedis, app.startBroker}
	for _, step := range steps {
		if err := step(); err != nil {
			cleanUp()
			return nil, err
		}
	}
	return cleanUp, nil
}

func (app *App) startTrace() error {
	shutdown, err := trace.InitTrace(app.cfg.Name, app.cfg.Trace)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	app.traceShutdown = shutdown
	return nil
}

func (app *App) startStore() error {
	var base storage.TickStore
	if strings.EqualFold(app.cfg.DB.Type, "memory") {
		logger.Warn(app.ctx, "using the in-memory tick store, data is lost on exit")
		base = memstore.New()
	} else {
		db, err := orm.Open(&app.cfg.DB)
		if err != nil {
			return err
		}
		app.db = db
		pg := pgstore.New(db)
		if err := pg.Migrate(app.ctx); err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			safe.GoCtx(app.ctx, func(ctx context.Context) { orm.ReportPoolStats(ctx, sqlDB, poolStatsEvery) })
		}
		base = pg
	}

	if app.cfg.Influx.URL != "" {
		app.influx = influxsink.New(app.cfg.Influx)
		base = storage.NewTee(base, app.influx)
		logger.Info(app.ctx, "mirroring ticks to influx", zap.String("influx", app.cfg.Influx.String()))
	}
	app.store = base
	return nil
}

func (app *App) startRedis() error {
	if app.cfg.Redis.Addr == "" {
		return nil
	}
	rdb, err := xredis.NewRedis(&app.cfg.Redis)
	if err != nil {
		return err
	}
	app.rdb = rdb
	app.cache = rediscache.New(app.store, rdb, "")
	app.store = app.cache
	safe.GoCtx(app.ctx, func(ctx context.Context) { xredis.ReportPoolStats(ctx, rdb, poolStatsEvery) })
	return nil
}

func (app *App) startBroker() error {
	app.hub = ws.NewHub()
	switch app.cfg.Broker.Type {
	case "", "none":
		app.pub = app.hub
		return nil
	case "mem":
		app.broker = gateway.NewMemBroker()
	case "nats":
		b, err := gateway.NewNatsBroker(app.cfg.Broker.URL, nats.Name(app.cfg.Name))
		if err != nil {
			return err
		}
		app.broker = b
	default:
		return fmt.Errorf("unknown broker type %q", app.cfg.Broker.Type)
	}
	app.pub = gateway.NewGateway(app.hub, app.broker)
	return nil
}

func (app *App) StartHttp() *http.Server {
	fh, yh := app.backfillServices()
	h := qhttp.Handlers{
		Prices:   handler.NewPrices(app.store, app.latestReader()),
		Bars:     &handler.Bars{Svc: kline.NewService(app.store)},
		Backfill: &handler.Backfill{Finnhub: fh, Yahoo: yh, Guard: app.backfillGuard()},
		Health:   &handler.Health{Store: app.store},
		WS:       ws.NewServer(app.ctx, app.hub, app.cfg.HTTP.WSOrigins),
	}
	engine := qhttp.NewEngine(app.ctx, qhttp.Options{
		Service:      app.cfg.Name,
		CORSOrigins:  app.cfg.HTTP.CORSOrigins,
		RPS:          app.cfg.RateLimit.RPS,
		Burst:        app.cfg.RateLimit.Burst,
		RateLimitTTL: app.cfg.RateLimit.TTL,
		Metrics:      true,
	}, h)
	return qhttp.NewServer(app.cfg.HTTP.Addr, engine)
}

func (app *App) latestReader() handler.LatestReader {
	if app.cache == nil {
		return nil
	}
	return app.cache
}

func (app *App) backfillServices() (fh, yh *backfill.Service) {
	y := yahoo.NewClient(app.cfg.Yahoo.Timeout)
	if app.cfg.Yahoo.BaseURL != "" {
		y.BaseURL = app.cfg.Yahoo.BaseURL
	}
	if app.cfg.Yahoo.UserAgent != "" {
		y.UserAgent = app.cfg.Yahoo.UserAgent
	}
	pacer := backfill.NewPacer(app.cfg.Backfill.Pause)
	yh = backfill.NewService(y, app.store)
	yh.SetPacer(pacer)

	if app.cfg.Finnhub.Token != "" {
		fh = backfill.NewService(app.finnhubClient(), app.store)
		fh.SetPacer(pacer)
	}
	return fh, yh
}

func (app *App) backfillGuard() handler.Guard {
	if app.rdb == nil {
		return handler.LocalGuard()
	}
	rdb, ttl := app.rdb, app.cfg.Backfill.LockTTL
	return func(ctx context.Context, key string) (func(), bool, error) {
		return xredis.Acquire(ctx, rdb, key, ttl)
	}
}

func (app *App) finnhubClient() *finnhub.Client {
	c := finnhub.NewClient(app.cfg.Finnhub.Token, app.cfg.Finnhub.Timeout)
	if app.cfg.Finnhub.RestURL != "" {
		c.BaseURL = app.cfg.Finnhub.RestURL
	}
	return c
}

// Run serves HTTP and runs the ingestors until ctx is done.
func (app *App) Run(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if gw, ok := app.pub.(*gateway.Gateway); ok {
		g.Go(func() error { return untilDone(gctx, gw.Run(gctx)) })
	}

	if app.cfg.Finnhub.Token == "" {
		logger.Warn(ctx, "finnhub token not set, live polling and streaming disabled")
	} else {
		poller := mdsource.NewPoller(app.finnhubClient(), app.store, app.pub, app.pollSymbols)
		if app.cfg.Poll.Interval > 0 {
			poller.Interval = app.cfg.Poll.Interval
		}
		g.Go(func() error { return untilDone(gctx, poller.Run(gctx)) })

		if len(app.cfg.Stream.Symbols) > 0 {
			stream := finnhub.NewStream(app.cfg.Finnhub.Token)
			if app.cfg.Finnhub.WSURL != "" {
				stream.URL = app.cfg.Finnhub.WSURL
			}
			streamer := mdsource.NewStreamer(stream, app.store, app.pub, app.cfg.Stream.Symbols)
			if app.cfg.Stream.ReconnectDelay > 0 {
				streamer.ReconnectDelay = app.cfg.Stream.ReconnectDelay
			}
			g.Go(func() error { return untilDone(gctx, streamer.Run(gctx)) })
		}
	}

	return g.Wait()
}

// untilDone drops the error a loop returns because ctx ended.
func untilDone(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
