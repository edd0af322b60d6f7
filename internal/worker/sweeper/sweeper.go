// Package sweeper expires caches past their retention deadline on a fixed
// interval.
package sweeper

import (
	"context"
	"time"

	"github.com/tilecache-microservice/internal/usecase"
	"github.com/tilecache-microservice/internal/worker"
	"go.uber.org/zap"
)

// Sweeper periodically runs the registry's expiry cleanup. The cleanup is
// idempotent, so overlapping deployments running their own sweepers are
// harmless.
type Sweeper struct {
	*worker.BaseWorker
	registryUC *usecase.RegistryUseCase
	interval   time.Duration
}

func New(registryUC *usecase.RegistryUseCase, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		BaseWorker: worker.NewBaseWorker("cache-expiry-sweeper", logger),
		registryUC: registryUC,
		interval:   interval,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Logger().Info("Expiry sweeper started", zap.Duration("interval", s.interval))

	// One pass up front so restarts do not postpone overdue cleanup by a
	// full interval.
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Quit():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cleaned, err := s.registryUC.CleanupExpired(ctx)
	if err != nil {
		s.Logger().Error("Expiry sweep failed", zap.Error(err))
		return
	}
	if cleaned > 0 {
		s.Logger().Info("Expiry sweep finished", zap.Int("expired_caches", cleaned))
	}
}
