// Package collector polls persisted registry state and feeds it to the
// watch view and its metrics endpoint.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"vote-escrow/internal/config"
	"vote-escrow/internal/registry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// TUIChannelBufferSize is the capacity callers should give the update channel.
	TUIChannelBufferSize = 16
	// TUICloseDelay gives the view time to quit after the channel closes.
	TUICloseDelay = 100 * time.Millisecond
)

// Collector reopens the registry from its Store on every tick. Other
// processes write to the same database, so nothing is cached between polls.
type Collector struct {
	cfg     config.Config
	store   registry.Store
	clock   registry.Clock
	updates chan<- interface{}
	logger  *slog.Logger
	metrics *collectorMetrics

	mu       sync.RWMutex
	lastPoll time.Time
	lastErr  error
}

// Status is sent instead of an overview when a poll fails.
type Status struct {
	At  time.Time
	Err error
}

func NewCollector(cfg config.Config, store registry.Store, updates chan<- interface{}, logger *slog.Logger, reg prometheus.Registerer) (*Collector, error) {
	if store == nil {
		return nil, errors.New("collector needs a store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:     cfg,
		store:   store,
		clock:   registry.SystemClock{},
		updates: updates,
		logger:  logger,
		metrics: newCollectorMetrics(reg),
	}, nil
}

// Run polls until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	interval := c.cfg.RefreshInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	ov, err := c.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.metrics.pollErrors.Inc()
		c.logger.Warn("poll failed",
			"event", "collector_poll_failed",
			"component", "collector",
			"error", err.Error(),
		)
		c.send(ctx, Status{At: c.clock.Now(), Err: err})
		return
	}
	c.metrics.observe(ov)
	c.send(ctx, ov)
}

// Poll loads a fresh overview from the store.
func (c *Collector) Poll(ctx context.Context) (registry.Overview, error) {
	reg, err := registry.Open(ctx, registry.Options{
		Store:  c.store,
		Clock:  c.clock,
		Logger: c.logger,
	})

	c.mu.Lock()
	c.lastPoll = c.clock.Now()
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		return registry.Overview{}, fmt.Errorf("open registry: %w", err)
	}
	return reg.Overview(), nil
}

// LastPoll reports when the last poll ran and how it ended.
func (c *Collector) LastPoll() (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPoll, c.lastErr
}

// send drops the update when the view is behind; the next tick replaces it.
func (c *Collector) send(ctx context.Context, v interface{}) {
	if c.updates == nil {
		return
	}
	select {
	case <-ctx.Done():
	case c.updates <- v:
	default:
		c.logger.Debug("update dropped", "event", "collector_update_dropped", "component", "collector")
	}
}

type collectorMetrics struct {
	rounds     prometheus.Gauge
	openRounds prometheus.Gauge
	locked     prometheus.Gauge
	commission prometheus.Gauge
	votes      prometheus.Gauge
	pollErrors prometheus.Counter
	lastPoll   prometheus.Gauge
}

func newCollectorMetrics(reg prometheus.Registerer) *collectorMetrics {
	promautoFactory := promauto.With(reg)
	return &collectorMetrics{
		rounds: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_watch_rounds",
			Help: "rounds in the registry",
		}),
		openRounds: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_watch_open_rounds",
			Help: "rounds still accepting votes",
		}),
		locked: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_watch_locked_wei",
			Help: "sum of pools of rounds not yet finalized",
		}),
		commission: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_watch_commission_wei",
			Help: "commission available to the owner",
		}),
		votes: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_watch_votes",
			Help: "votes cast across all rounds",
		}),
		pollErrors: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "escrow_watch_poll_errors_total",
			Help: "polls that failed to load the registry",
		}),
		lastPoll: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "escrow_watch_last_poll_timestamp_seconds",
			Help: "unix time of the last successful poll",
		}),
	}
}

func (m *collectorMetrics) observe(ov registry.Overview) {
	var open, votes int
	locked := new(big.Int)
	for _, rv := range ov.Rounds {
		if rv.Open {
			open++
		}
		if !rv.Finished {
			locked.Add(locked, rv.Pool)
		}
		votes += rv.VoteCount
	}
	m.rounds.Set(float64(len(ov.Rounds)))
	m.openRounds.Set(float64(open))
	m.votes.Set(float64(votes))
	m.locked.Set(weiFloat(locked))
	m.commission.Set(weiFloat(ov.Commission))
	m.lastPoll.Set(float64(ov.At.Unix()))
}

func weiFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
