package config

import (
	"time"

	"tickflow.com/internal/quotes/mdsource"
	"tickflow.com/internal/quotes/storage/influxsink"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/orm"
	"tickflow.com/pkg/trace"
	"tickflow.com/pkg/xredis"
)

const ServiceName = "quotes-service"

// Cfg is config/quotes-service.yaml.
type Cfg struct {
	Name      string            `mapstructure:"name"`
	Log       logger.Config     `mapstructure:"log"`
	HTTP      HTTPConfig        `mapstructure:"http"`
	Finnhub   FinnhubConfig     `mapstructure:"finnhub"`
	Yahoo     YahooConfig       `mapstructure:"yahoo"`
	Poll      PollConfig        `mapstructure:"poll"`
	Stream    StreamConfig      `mapstructure:"stream"`
	Backfill  BackfillConfig    `mapstructure:"backfill"`
	DB        orm.Config        `mapstructure:"db"`
	Redis     xredis.Config     `mapstructure:"redis"`
	Influx    influxsink.Config `mapstructure:"influx"`
	Broker    BrokerConfig      `mapstructure:"broker"`
	Trace     trace.Config      `mapstructure:"trace"`
	RateLimit RateLimitConfig   `mapstructure:"rate_limit"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
	// CORSOrigins empty means any origin.
	CORSOrigins []string `mapstructure:"cors_origins"`
	// WSOrigins limits /ws/prices upgrades; empty means any origin.
	WSOrigins []string `mapstructure:"ws_origins"`
}

type FinnhubConfig struct {
	// Token empty disables polling, streaming and /backfill.
	Token   string        `mapstructure:"token"`
	RestURL string        `mapstructure:"rest_url" validate:"omitempty,url"`
	WSURL   string        `mapstructure:"ws_url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type YahooConfig struct {
	BaseURL   string        `mapstructure:"base_url" validate:"omitempty,url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type PollConfig struct {
	Interval time.Duration     `mapstructure:"interval"`
	Symbols  []mdsource.Symbol `mapstructure:"symbols" validate:"dive"`
}

type StreamConfig struct {
	Symbols        []string      `mapstructure:"symbols" validate:"dive,required"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type BackfillConfig struct {
	Pause time.Duration `mapstructure:"pause"`
	// LockTTL bounds how long one symbol's backfill holds the redis lock.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type BrokerConfig struct {
	// Type none publishes straight to the hub.
	Type string `mapstructure:"type" validate:"omitempty,oneof=none mem nats"`
	URL  string `mapstructure:"url" validate:"required_if=Type nats"`
}

type RateLimitConfig struct {
	RPS   float64       `mapstructure:"rps" validate:"gte=0"`
	Burst int           `mapstructure:"burst" validate:"gte=0"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// Default is applied before the file is read.
func Default() Cfg {
	return Cfg{
		Name: ServiceName,
		Log:  logger.Config{Service: ServiceName, Level: "info"},
		HTTP: HTTPConfig{
			Addr:        ":8000",
			CORSOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		Finnhub: FinnhubConfig{Timeout: 20 * time.Second},
		Yahoo:   YahooConfig{Timeout: 20 * time.Second},
		Poll: PollConfig{
			Interval: mdsource.DefaultPollInterval,
			Symbols:  []mdsource.Symbol{{API: "SPY"}, {API: "QQQ"}},
		},
		Stream: StreamConfig{
			Symbols:        []string{"SPY", "QQQ", "BINANCE:BTCUSDT"},
			ReconnectDelay: mdsource.DefaultReconnectDelay,
		},
		Backfill:  BackfillConfig{Pause: 250 * time.Millisecond, LockTTL: 10 * time.Minute},
		DB:        orm.Config{Type: "postgres", MaxIdle: 5, MaxOpen: 20, MaxLifetime: 300, LogLevel: "warn"},
		Broker:    BrokerConfig{Type: "none"},
		Trace:     trace.Config{Ratio: 1},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100, TTL: 10 * time.Minute},
	}
}
