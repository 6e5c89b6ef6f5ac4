package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/metrics"
	"github.com/juju/clock"
	"github.com/juju/retry"
)

// Handler performs the side effect for one change record. Handlers must be
// idempotent: a record may be delivered more than once.
type Handler interface {
	Handle(ctx context.Context, rec domain.ChangeRecord) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, rec domain.ChangeRecord) error

func (f HandlerFunc) Handle(ctx context.Context, rec domain.ChangeRecord) error { return f(ctx, rec) }

// DeadLetter receives isolated poison entries.
type DeadLetter interface {
	Report(ctx context.Context, entry domain.PoisonEntry) error
}

// Options tunes the retry policy.
type Options struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Clock       clock.Clock
}

// BatchResult summarises how one batch settled.
type BatchResult struct {
	Acked      int
	Poisoned   []domain.PoisonEntry
	Attempts   int
	Bisections int
}

type Dispatcher struct {
	creation     Handler
	confirmation Handler
	deadLetter   DeadLetter
	opts         Options
	log          *slog.Logger
}

// NewDispatcher wires the two routed handlers. deadLetter may be nil.
func NewDispatcher(creation, confirmation Handler, deadLetter DeadLetter, opts Options, log *slog.Logger) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Millisecond
	}
	if opts.MaxDelay < opts.Delay {
		opts.MaxDelay = opts.Delay
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	return &Dispatcher{
		creation:     creation,
		confirmation: confirmation,
		deadLetter:   deadLetter,
		opts:         opts,
		log:          log.With("component", "stream-dispatcher"),
	}
}

// ProcessBatch settles batch: every entry ends up acked or isolated as poison.
// The only error is ctx.Err(), returned when cancellation interrupts retrying;
// the caller must then not advance past the batch.
func (d *Dispatcher) ProcessBatch(ctx context.Context, batch []domain.ChangeRecord) (BatchResult, error) {
	start := d.opts.Clock.Now()
	var res BatchResult
	err := d.settle(ctx, batch, &res)
	metrics.BatchDuration.Observe(d.opts.Clock.Now().Sub(start).Seconds())

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "cancelled"
	case len(res.Poisoned) > 0:
		outcome = "poisoned"
	}
	metrics.BatchesProcessed.WithLabelValues(outcome).Inc()
	d.log.Debug("batch settled",
		"size", len(batch), "acked", res.Acked, "poisoned", len(res.Poisoned),
		"attempts", res.Attempts, "bisections", res.Bisections, "outcome", outcome)
	return res, err
}

// Settle is ProcessBatch reduced to the error, for feed readers that only
// need to know whether they may checkpoint.
func (d *Dispatcher) Settle(ctx context.Context, batch []domain.ChangeRecord) error {
	_, err := d.ProcessBatch(ctx, batch)
	return err
}

func (d *Dispatcher) settle(ctx context.Context, batch []domain.ChangeRecord, res *BatchResult) error {
	if len(batch) == 0 {
		return nil
	}
	attempts, err := d.retry(ctx, batch, res)
	if err == nil {
		res.Acked += len(batch)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(batch) == 1 {
		d.isolate(ctx, batch[0], err, attempts, res)
		return nil
	}

	res.Bisections++
	metrics.Bisections.Inc()
	mid := len(batch) / 2
	d.log.Warn("bisecting failing batch", "size", len(batch), "err", err)
	if err := d.settle(ctx, batch[:mid], res); err != nil {
		return err
	}
	return d.settle(ctx, batch[mid:], res)
}

// retry runs the batch until one attempt succeeds or the budget is spent.
func (d *Dispatcher) retry(ctx context.Context, batch []domain.ChangeRecord, res *BatchResult) (int, error) {
	attempts := 0
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			res.Attempts++
			metrics.BatchAttempts.Inc()
			return d.runOnce(ctx, batch)
		},
		IsFatalError: func(error) bool { return ctx.Err() != nil },
		NotifyFunc: func(err error, attempt int) {
			d.log.Debug("batch attempt failed", "size", len(batch), "attempt", attempt, "err", err)
		},
		Attempts:    d.opts.MaxAttempts,
		Delay:       d.opts.Delay,
		MaxDelay:    d.opts.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       d.opts.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		return attempts, retry.LastError(err)
	}
	return attempts, nil
}

// runOnce processes entries in order and stops at the first failure.
func (d *Dispatcher) runOnce(ctx context.Context, batch []domain.ChangeRecord) error {
	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.handle(ctx, rec); err != nil {
			return fmt.Errorf("entry %s (%s): %w", rec.Sequence, rec.Key, err)
		}
	}
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, rec domain.ChangeRecord) error {
	if rec.DecodeErr != nil {
		return fmt.Errorf("decode change record: %w", rec.DecodeErr)
	}
	route := Classify(rec)
	var err error
	switch route {
	case RouteCreation:
		err = d.creation.Handle(ctx, rec)
	case RouteConfirmation:
		err = d.confirmation.Handle(ctx, rec)
	}
	if err == nil {
		metrics.EntriesAcked.WithLabelValues(route.String()).Inc()
	}
	return err
}

func (d *Dispatcher) isolate(ctx context.Context, rec domain.ChangeRecord, cause error, attempts int, res *BatchResult) {
	entry := domain.PoisonEntry{
		Record:     rec,
		Error:      cause.Error(),
		Attempts:   attempts,
		IsolatedAt: d.opts.Clock.Now().UTC(),
	}
	res.Poisoned = append(res.Poisoned, entry)
	metrics.PoisonEntries.Inc()
	d.log.Error("poison entry isolated",
		"key", rec.Key, "sequence", rec.Sequence, "attempts", attempts, "err", cause)

	if d.deadLetter == nil {
		return
	}
	if err := d.deadLetter.Report(ctx, entry); err != nil {
		d.log.Error("dead-letter report failed", "key", rec.Key, "sequence", rec.Sequence, "err", err)
	}
}
