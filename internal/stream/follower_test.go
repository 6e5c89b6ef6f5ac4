package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceFeed serves records whose sequence sorts after the marker.
type sliceFeed struct {
	mu      sync.Mutex
	records []domain.ChangeRecord
}

func (f *sliceFeed) append(recs ...domain.ChangeRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recs...)
}

func (f *sliceFeed) Read(_ context.Context, after string, limit int) ([]domain.ChangeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ChangeRecord
	for _, r := range f.records {
		if r.Sequence > after && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (r *recorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[key]
}

func TestFollower_DrainAdvancesMarker(t *testing.T) {
	feed := &sliceFeed{}
	feed.append(creation("K1", 1), creation("K2", 2), creation("K3", 3))
	rec := newRecorder()
	f := NewFollower(feed, NewDispatcher(rec, rec, nil, fastOptions(), discard), 2, time.Minute, nil, discard)

	res, err := f.Drain(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, res.Acked)
	assert.Equal(t, creation("K3", 3).Sequence, f.Marker())

	res, err = f.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Acked)
}

func TestFollower_RunPollsOnClock(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	feed := &sliceFeed{}
	rec := newRecorder()
	f := NewFollower(feed, NewDispatcher(rec, rec, nil, fastOptions(), discard), 5, time.Minute, clk, discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	// The first drain finds nothing; the record is only seen after the interval elapses.
	require.NoError(t, clk.WaitAdvance(30*time.Second, time.Second, 1))
	feed.append(creation("K1", 1))
	require.NoError(t, clk.WaitAdvance(30*time.Second, time.Second, 1))

	assert.Eventually(t, func() bool { return rec.count("K1") == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("follower did not stop")
	}
}
