package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// OrderExpirer cancels orders whose payment window has lapsed.
type OrderExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error)
}

// ExpirySweeperConfig controls the background payment-window sweep.
type ExpirySweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// ExpirySweeper periodically expires overdue PENDING_PAYMENT orders.
type ExpirySweeper struct {
	expirer  OrderExpirer
	interval time.Duration
	batch    int
	clock    func() time.Time
	logger   *zap.Logger
}

// NewExpirySweeper constructs a sweeper. Interval and batch size fall back to
// sane defaults when unset.
func NewExpirySweeper(expirer OrderExpirer, cfg ExpirySweeperConfig, logger *zap.Logger) (*ExpirySweeper, error) {
	if expirer == nil {
		return nil, errors.New("expiry sweeper: order expirer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &ExpirySweeper{
		expirer:  expirer,
		interval: interval,
		batch:    batch,
		clock:    time.Now,
		logger:   logger,
	}, nil
}

// Run blocks until ctx is cancelled, sweeping once per interval. The first
// sweep happens immediately so restarts do not leave overdue orders waiting a
// full interval.
func (s *ExpirySweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	now := s.clock().UTC()
	expired, err := s.expirer.ExpireOverdue(ctx, now, s.batch)
	if err != nil {
		s.logger.Warn("expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.logger.Info("expired overdue orders", zap.Int("count", expired))
	}
}
