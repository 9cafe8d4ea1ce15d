package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/calorily/internal/repository"
)

// OrphanSweeper periodically removes image files that no meal references.
//
// An insert that copied its image but then failed to write the row leaves
// such a file behind; so does a crash mid-copy. minAge keeps the sweep away
// from files an insert is still working on.
type OrphanSweeper struct {
	store    repository.Sweeper
	interval time.Duration
	minAge   time.Duration
	logger   *slog.Logger
}

// NewOrphanSweeper creates a sweeper. A non-positive interval means it only
// runs once, at startup.
func NewOrphanSweeper(store repository.Sweeper, interval, minAge time.Duration, logger *slog.Logger) *OrphanSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrphanSweeper{store: store, interval: interval, minAge: minAge, logger: logger}
}

// Run sweeps immediately and then every interval until ctx is done.
// Sweep failures are logged, never fatal.
func (s *OrphanSweeper) Run(ctx context.Context) error {
	s.sweep(ctx)
	if s.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *OrphanSweeper) sweep(ctx context.Context) {
	n, err := s.store.SweepOrphans(ctx, s.minAge)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("orphan sweep failed", slog.String("error", err.Error()))
		}
		return
	}
	s.logger.Debug("orphan sweep finished", slog.Int("removed", n))
}
