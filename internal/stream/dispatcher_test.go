package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockDeadLetter struct{ mock.Mock }

func (m *mockDeadLetter) Report(ctx context.Context, e domain.PoisonEntry) error {
	return m.Called(ctx, e).Error(0)
}

// recorder counts calls per key and fails for keys in poison.
type recorder struct {
	mu     sync.Mutex
	calls  map[string]int
	poison map[string]bool
}

func newRecorder(poison ...string) *recorder {
	r := &recorder{calls: map[string]int{}, poison: map[string]bool{}}
	for _, k := range poison {
		r.poison[k] = true
	}
	return r
}

func (r *recorder) Handle(_ context.Context, rec domain.ChangeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[rec.Key]++
	if r.poison[rec.Key] {
		return fmt.Errorf("send %s: %w", rec.Key, domain.ErrDispatchFailure)
	}
	return nil
}

func creation(key string, seq int) domain.ChangeRecord {
	return domain.ChangeRecord{
		Key:      key,
		New:      domain.ConfirmationRequest{Key: key, State: domain.StateCreated, Version: 1},
		Sequence: fmt.Sprintf("%020d", seq),
	}
}

func update(key string, from, to domain.State) domain.ChangeRecord {
	return domain.ChangeRecord{
		Key:   key,
		Prior: &domain.ConfirmationRequest{Key: key, State: from, Version: 2},
		New:   domain.ConfirmationRequest{Key: key, State: to, Version: 3},
	}
}

func fastOptions() Options {
	return Options{MaxAttempts: 3, Delay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		rec  domain.ChangeRecord
		want Route
	}{
		{"creation", creation("k", 1), RouteCreation},
		{"email sent to confirmed", update("k", domain.StateEmailSent, domain.StateConfirmed), RouteConfirmation},
		{"created to email sent", update("k", domain.StateCreated, domain.StateEmailSent), RouteIgnore},
		{"created to expired", update("k", domain.StateCreated, domain.StateExpired), RouteIgnore},
		{"confirmed to done", update("k", domain.StateConfirmed, domain.StateDone), RouteIgnore},
		{"confirmed without state change", update("k", domain.StateConfirmed, domain.StateConfirmed), RouteIgnore},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.rec))
		})
	}
}

func TestProcessBatch_AllHealthy(t *testing.T) {
	email := newRecorder()
	d := NewDispatcher(email, newRecorder(), nil, fastOptions(), discard)

	batch := []domain.ChangeRecord{creation("a", 1), creation("b", 2), creation("c", 3)}
	res, err := d.ProcessBatch(context.Background(), batch)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Acked)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Poisoned)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, email.calls)
}

func TestProcessBatch_RoutesByClassification(t *testing.T) {
	email, callback := newRecorder(), newRecorder()
	d := NewDispatcher(email, callback, nil, fastOptions(), discard)

	batch := []domain.ChangeRecord{
		creation("a", 1),
		update("b", domain.StateEmailSent, domain.StateConfirmed),
		update("c", domain.StateConfirmed, domain.StateDone),
	}
	res, err := d.ProcessBatch(context.Background(), batch)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Acked)
	assert.Equal(t, map[string]int{"a": 1}, email.calls)
	assert.Equal(t, map[string]int{"b": 1}, callback.calls)
}

func TestProcessBatch_TransientFailureRetriedWhole(t *testing.T) {
	failures := 2
	var seen []string
	h := HandlerFunc(func(_ context.Context, rec domain.ChangeRecord) error {
		seen = append(seen, rec.Key)
		if rec.Key == "b" && failures > 0 {
			failures--
			return domain.ErrDispatchFailure
		}
		return nil
	})
	d := NewDispatcher(h, newRecorder(), nil, fastOptions(), discard)

	res, err := d.ProcessBatch(context.Background(), []domain.ChangeRecord{creation("a", 1), creation("b", 2), creation("c", 3)})

	require.NoError(t, err)
	assert.Equal(t, 3, res.Acked)
	assert.Equal(t, 3, res.Attempts)
	assert.Zero(t, res.Bisections)
	// Each attempt restarts from the head and stops at the first failure.
	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b", "c"}, seen)
}

func TestProcessBatch_BisectionIsolatesSinglePoison(t *testing.T) {
	email := newRecorder("k2")
	dl := &mockDeadLetter{}
	dl.On("Report", mock.Anything, mock.MatchedBy(func(e domain.PoisonEntry) bool {
		return e.Record.Key == "k2" && e.Attempts == 3
	})).Return(nil).Once()
	d := NewDispatcher(email, newRecorder(), dl, fastOptions(), discard)

	var batch []domain.ChangeRecord
	for i := 0; i < 5; i++ {
		batch = append(batch, creation(fmt.Sprintf("k%d", i), i+1))
	}
	res, err := d.ProcessBatch(context.Background(), batch)

	require.NoError(t, err)
	assert.Equal(t, 4, res.Acked)
	require.Len(t, res.Poisoned, 1)
	assert.Equal(t, "k2", res.Poisoned[0].Record.Key)
	assert.Contains(t, res.Poisoned[0].Error, "dispatch failure")
	// [0..4] -> [0,1] ok, [2,3,4] -> [2] poison, [3,4] ok
	assert.Equal(t, 2, res.Bisections)
	for _, k := range []string{"k0", "k1", "k3", "k4"} {
		assert.GreaterOrEqual(t, email.calls[k], 1, k)
	}
	dl.AssertExpectations(t)
}

func TestProcessBatch_AllPoisonedStillSettles(t *testing.T) {
	email := newRecorder("a", "b", "c", "d")
	d := NewDispatcher(email, newRecorder(), nil, fastOptions(), discard)

	batch := []domain.ChangeRecord{creation("a", 1), creation("b", 2), creation("c", 3), creation("d", 4)}
	res, err := d.ProcessBatch(context.Background(), batch)

	require.NoError(t, err)
	assert.Zero(t, res.Acked)
	assert.Len(t, res.Poisoned, 4)
	assert.Equal(t, 3, res.Bisections)
}

func TestProcessBatch_UndecodableEntryIsPoison(t *testing.T) {
	email := newRecorder()
	d := NewDispatcher(email, newRecorder(), nil, fastOptions(), discard)

	bad := domain.ChangeRecord{Key: "bad", Sequence: "2", DecodeErr: errors.New("image missing")}
	res, err := d.ProcessBatch(context.Background(), []domain.ChangeRecord{creation("a", 1), bad})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Acked)
	require.Len(t, res.Poisoned, 1)
	assert.Equal(t, "bad", res.Poisoned[0].Record.Key)
	assert.Contains(t, res.Poisoned[0].Error, "image missing")
}

func TestProcessBatch_CancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	h := HandlerFunc(func(context.Context, domain.ChangeRecord) error {
		calls++
		cancel()
		return domain.ErrDispatchFailure
	})
	dl := &mockDeadLetter{}
	d := NewDispatcher(h, newRecorder(), dl, Options{MaxAttempts: 10, Delay: time.Second, MaxDelay: time.Second}, discard)

	res, err := d.ProcessBatch(ctx, []domain.ChangeRecord{creation("a", 1), creation("b", 2)})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Zero(t, res.Acked)
	assert.Empty(t, res.Poisoned)
	dl.AssertNotCalled(t, "Report", mock.Anything, mock.Anything)
}

func TestProcessBatch_DeadLetterFailureDoesNotBlock(t *testing.T) {
	dl := &mockDeadLetter{}
	dl.On("Report", mock.Anything, mock.Anything).Return(errors.New("sns down"))
	d := NewDispatcher(newRecorder("a"), newRecorder(), dl, fastOptions(), discard)

	res, err := d.ProcessBatch(context.Background(), []domain.ChangeRecord{creation("a", 1)})

	require.NoError(t, err)
	assert.Len(t, res.Poisoned, 1)
}
