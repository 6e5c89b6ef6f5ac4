// Package expiry moves overdue requests that were never confirmed to Expired.
package expiry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/metrics"
	"github.com/juju/clock"
	"github.com/robfig/cron/v3"
)

const sweepLimit = 500

type store interface {
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.ConfirmationRequest, error)
	Transition(ctx context.Context, key string, expectedVersion int64, to domain.State) (*domain.ConfirmationRequest, error)
}

type Sweeper struct {
	store store
	clock clock.Clock
	log   *slog.Logger
}

func NewSweeper(store store, clk clock.Clock, logger *slog.Logger) *Sweeper {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Sweeper{store: store, clock: clk, log: logger.With("component", "expiry-sweeper")}
}

// Sweep expires every overdue Created or EmailSent request and returns how
// many it moved. Requests that change underneath it are skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.store.ListExpirable(ctx, s.clock.Now(), sweepLimit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, c := range due {
		if _, err := s.store.Transition(ctx, c.Key, c.Version, domain.StateExpired); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return expired, err
		}
		expired++
		metrics.RequestsExpired.Inc()
	}
	if expired > 0 {
		s.log.Info("expired overdue requests", "count", expired)
	}
	return expired, nil
}

// Start runs Sweep every interval until ctx is cancelled. Overlapping runs are skipped.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) *cron.Cron {
	cronLog := cron.PrintfLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	c.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("expiry sweep failed", "err", err)
		}
	}))
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c
}
