// Package confirmation creates confirmation requests and exposes their state.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/pkg/id"
	"github.com/email-confirmation-service/internal/pkg/validate"
)

type Service interface {
	Create(ctx context.Context, req domain.NewConfirmation) (*domain.ConfirmationRequest, error)
	Get(ctx context.Context, key string) (*domain.ConfirmationRequest, error)
	SetStatus(ctx context.Context, key string, expectedVersion int64, to domain.State) (*domain.ConfirmationRequest, error)
}

// Store is the confirmation record store contract.
type Store interface {
	Create(ctx context.Context, key string, n domain.NewConfirmation) (*domain.ConfirmationRequest, error)
	Get(ctx context.Context, key string) (*domain.ConfirmationRequest, error)
	Transition(ctx context.Context, key string, expectedVersion int64, to domain.State) (*domain.ConfirmationRequest, error)
}

type service struct {
	store      Store
	newKey     id.Generator
	defaultTTL time.Duration
}

type ServiceDeps struct {
	Store      Store
	KeyGen     id.Generator // defaults to id.New
	DefaultTTL time.Duration
}

func NewService(deps ServiceDeps) Service {
	gen := deps.KeyGen
	if gen == nil {
		gen = id.New
	}
	ttl := deps.DefaultTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &service{store: deps.Store, newKey: gen, defaultTTL: ttl}
}

// Create stores a new request in Created. The creation itself is what
// triggers the confirmation email downstream.
func (s *service) Create(ctx context.Context, req domain.NewConfirmation) (*domain.ConfirmationRequest, error) {
	if req.TTL == 0 {
		req.TTL = s.defaultTTL
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}
	c, err := s.store.Create(ctx, s.newKey(), req)
	if errors.Is(err, domain.ErrDuplicateKey) {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrConflict)
	}
	return c, err
}

func (s *service) Get(ctx context.Context, key string) (*domain.ConfirmationRequest, error) {
	return s.store.Get(ctx, key)
}

// SetStatus is the internal status update used by service callers.
func (s *service) SetStatus(ctx context.Context, key string, expectedVersion int64, to domain.State) (*domain.ConfirmationRequest, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("unknown state %q: %w", to, domain.ErrBadRequest)
	}
	return s.store.Transition(ctx, key, expectedVersion, to)
}
