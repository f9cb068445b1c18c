// Package retention deletes refresh tokens that expired long ago
package retention

import (
	"context"
	"time"

	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/metrics"
)

const (
	DefaultInterval = time.Hour
	DefaultPeriod   = 7 * 24 * time.Hour // Expired tokens are kept this long for reuse detection
)

type tokenDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	Interval time.Duration
	Period   time.Duration
}

type Sweeper struct {
	interval time.Duration
	period   time.Duration
	tokens   tokenDeleter
	metrics  *metrics.Metrics
	logger   logger.Logger
	now      func() time.Time
}

func New(cfg Config, tokens tokenDeleter, m *metrics.Metrics, l logger.Logger) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}

	return &Sweeper{
		interval: cfg.Interval,
		period:   cfg.Period,
		tokens:   tokens,
		metrics:  m,
		logger:   l,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is done
// Returned channel is closed when the sweeper stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting retention sweeper", "interval", s.interval, "period", s.period)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Retention sweeper stopped by context")
				return

			case <-ticker.C:
				_, _ = s.Sweep(ctx)
			}
		}
	}()

	return idleStopped
}

// Sweep deletes tokens expired before now minus retention period
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	before := s.now().Add(-s.period)

	n, err := s.tokens.DeleteExpired(ctx, before)
	if err != nil {
		s.logger.Error("Failed to delete expired refresh tokens", "error", err)
		return 0, err
	}

	s.metrics.RefreshSwept.Add(float64(n))
	if n > 0 {
		s.logger.Info("Expired refresh tokens deleted", "count", n, "before", before)
	}
	return n, nil
}
