package token

import (
	"context"
	"log/slog"
	"time"
)

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically removes expired ledger rows. Purging has no effect on
// verification, since expired records already fail; it only bounds table size.
type Sweeper struct {
	svc      purger
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(svc purger, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh token sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.svc.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("refresh token sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("expired refresh tokens purged", "count", n)
	}
}
