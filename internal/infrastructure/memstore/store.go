// Package memstore is an in-process confirmation record store with its own
// ordered change feed. It backs local single-process runs and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/juju/clock"
)

// Store keeps records in a map and appends one change entry per committed
// write while holding the same lock, so the feed order is the commit order.
type Store struct {
	mu      sync.RWMutex
	clock   clock.Clock
	records map[string]domain.ConfirmationRequest
	log     []domain.ChangeRecord
	seq     uint64
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Store{clock: clk, records: make(map[string]domain.ConfirmationRequest)}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

func (s *Store) Create(_ context.Context, key string, n domain.NewConfirmation) (*domain.ConfirmationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return nil, fmt.Errorf("create %s: %w", key, domain.ErrDuplicateKey)
	}
	c := n.Build(key, s.now())
	s.records[key] = c
	s.append(nil, c)
	return &c, nil
}

func (s *Store) Transition(_ context.Context, key string, expectedVersion int64, to domain.State) (*domain.ConfirmationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("confirmation %s: %w", key, domain.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return nil, fmt.Errorf("confirmation %s at version %d, expected %d: %w", key, cur.Version, expectedVersion, domain.ErrVersionConflict)
	}
	next, err := cur.Apply(to, s.now())
	if err != nil {
		return nil, fmt.Errorf("confirmation %s: %w", key, err)
	}
	s.records[key] = next
	prior := cur
	s.append(&prior, next)
	return &next, nil
}

func (s *Store) Get(_ context.Context, key string) (*domain.ConfirmationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("confirmation %s: %w", key, domain.ErrNotFound)
	}
	return &c, nil
}

// ListExpirable returns up to limit Created or EmailSent records whose expiry
// is before now, oldest expiry first.
func (s *Store) ListExpirable(_ context.Context, now time.Time, limit int) ([]domain.ConfirmationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ConfirmationRequest
	for _, c := range s.records {
		if (c.State == domain.StateCreated || c.State == domain.StateEmailSent) && c.ExpiresAt.Before(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Read returns up to limit change entries committed after the sequence marker
// after. An empty marker reads from the start of the feed.
func (s *Store) Read(_ context.Context, after string, limit int) ([]domain.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := sort.Search(len(s.log), func(i int) bool { return s.log[i].Sequence > after })
	end := len(s.log)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]domain.ChangeRecord, end-start)
	copy(out, s.log[start:end])
	return out, nil
}

func (s *Store) append(prior *domain.ConfirmationRequest, next domain.ConfirmationRequest) {
	s.seq++
	s.log = append(s.log, domain.ChangeRecord{
		Key:      next.Key,
		Prior:    prior,
		New:      next,
		Sequence: fmt.Sprintf("%020d", s.seq),
	})
}
