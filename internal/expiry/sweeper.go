package expiry

import (
	"context"
	"time"

	"ddos-guard/internal/detector"
	"ddos-guard/internal/model"

	"github.com/sirupsen/logrus"
)

// Sweeper lifts blocks older than BLOCK_TIME. It only runs when
// detection.auto_unblock is enabled.
type Sweeper struct {
	engine    *detector.Engine
	blockTime time.Duration
	interval  time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

func NewSweeper(engine *detector.Engine, blockTime, interval time.Duration, logger *logrus.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{
		engine:    engine,
		blockTime: blockTime,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Infof("Auto-unblock sweeper started (block time %s, interval %s)", s.blockTime, s.interval)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Debug("Auto-unblock sweeper stopped")
			return
		}
	}
}

// Sweep unblocks every expired source and returns the ones that were
// lifted. A failed unblock keeps the source blocked; it is retried on the
// next sweep.
func (s *Sweeper) Sweep(ctx context.Context) []model.SourceIdentifier {
	expired := s.engine.Registry().Expired(s.now(), s.blockTime)

	lifted := make([]model.SourceIdentifier, 0, len(expired))
	for _, source := range expired {
		ok, err := s.engine.Expire(ctx, source)
		if err != nil {
			s.logger.Warnf("Auto-unblock of %s failed, will retry: %v", source, err)
			continue
		}
		if ok {
			lifted = append(lifted, source)
		}
	}

	if len(lifted) > 0 {
		s.logger.Infof("Auto-unblocked %d sources", len(lifted))
	}
	return lifted
}
