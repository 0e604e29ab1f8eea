package ratelimit

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"tickflow.com/pkg/metrics"
)

type Rule struct {
	// probes allowed in Half-Open (0 is treated as 1 by gobreaker)
	MaxRequests uint32

	// Closed-state counting window
	Interval time.Duration

	// >0 enables the rolling window with this bucket period
	BucketPeriod time.Duration

	// how long Open lasts before Half-Open
	Timeout time.Duration

	// trip on either condition
	TripConsecutiveFailures uint32
	TripFailureRate         float64 // 0~1
	TripMinRequests         uint32  // sample floor for the rate
}

// Manager lazily creates one breaker per key (a method, a symbol, ...).
type Manager struct {
	service string

	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[struct{}]

	defaultRule Rule
	rules       map[string]Rule

	// IsSuccessful decides which errors count against the breaker.
	// nil means every non-nil error is a failure.
	IsSuccessful func(err error) bool
}

func NewManager(service string, defaultRule Rule, perKey map[string]Rule) *Manager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}

	return &Manager{
		service:     service,
		m:           make(map[string]*gobreaker.CircuitBreaker[struct{}], 64),
		defaultRule: defaultRule,
		rules:       perKey,
	}
}

func (m *Manager) Get(key string) *gobreaker.CircuitBreaker[struct{}] {
	// fast path
	m.mu.RLock()
	cb := m.m[key]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb = m.m[key]; cb != nil {
		return cb
	}

	rule, ok := m.rules[key]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:         key,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,

		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				failRate := float64(c.TotalFailures) / float64(c.Requests)
				return failRate >= rule.TripFailureRate
			}
			return false
		},

		IsSuccessful: m.isSuccessful,

		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CBState.WithLabelValues(m.service, name, from.String()).Set(0)
			metrics.CBState.WithLabelValues(m.service, name, to.String()).Set(1)
		},
	}

	cb = gobreaker.NewCircuitBreaker[struct{}](st)
	m.m[key] = cb
	return cb
}

// Do runs fn through the breaker for key. Rejections by an open breaker come
// back as gobreaker.ErrOpenState / ErrTooManyRequests.
func (m *Manager) Do(key string, fn func() error) error {
	_, err := m.Get(key).Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		metrics.CBRejectTotal.WithLabelValues(m.service, key, err.Error()).Inc()
	}
	return err
}

func (m *Manager) isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if m.IsSuccessful != nil {
		return m.IsSuccessful(err)
	}
	return false
}
