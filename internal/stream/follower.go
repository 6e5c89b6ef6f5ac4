package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/juju/clock"
)

// Feed is an ordered change log that can be read after a sequence marker.
type Feed interface {
	Read(ctx context.Context, after string, limit int) ([]domain.ChangeRecord, error)
}

// Follower polls a single Feed in process and hands each batch to the
// dispatcher. The marker only advances after a batch has settled.
type Follower struct {
	feed       Feed
	dispatcher *Dispatcher
	batchSize  int
	interval   time.Duration
	clock      clock.Clock
	log        *slog.Logger

	marker string
}

func NewFollower(feed Feed, dispatcher *Dispatcher, batchSize int, interval time.Duration, clk clock.Clock, log *slog.Logger) *Follower {
	if batchSize <= 0 {
		batchSize = 5
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Follower{
		feed:       feed,
		dispatcher: dispatcher,
		batchSize:  batchSize,
		interval:   interval,
		clock:      clk,
		log:        log.With("component", "stream-follower"),
	}
}

// Run drains the feed every interval until ctx is cancelled.
func (f *Follower) Run(ctx context.Context) error {
	for {
		if _, err := f.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.Error("drain feed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-f.clock.After(f.interval):
		}
	}
}

// Drain processes batches until the feed has nothing past the marker and
// returns the combined result.
func (f *Follower) Drain(ctx context.Context) (BatchResult, error) {
	var total BatchResult
	for {
		batch, err := f.feed.Read(ctx, f.marker, f.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}
		res, err := f.dispatcher.ProcessBatch(ctx, batch)
		total.Acked += res.Acked
		total.Poisoned = append(total.Poisoned, res.Poisoned...)
		total.Attempts += res.Attempts
		total.Bisections += res.Bisections
		if err != nil {
			return total, err
		}
		f.marker = batch[len(batch)-1].Sequence
	}
}

// Marker returns the sequence of the last settled entry.
func (f *Follower) Marker() string { return f.marker }
