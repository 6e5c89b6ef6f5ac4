// Package linkclick confirms a request when its emailed link is opened.
package linkclick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/metrics"
)

// Outcome reports how a valid click settled.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	OutcomeAlreadyExpired   Outcome = "already_expired"
)

type Service interface {
	Confirm(ctx context.Context, token string) (Outcome, *domain.ConfirmationRequest, error)
}

type store interface {
	Get(ctx context.Context, key string) (*domain.ConfirmationRequest, error)
	Transition(ctx context.Context, key string, expectedVersion int64, to domain.State) (*domain.ConfirmationRequest, error)
}

type verifier interface {
	Verify(value string, expected domain.Purpose) (string, error)
}

type service struct {
	store    store
	verifier verifier
	log      *slog.Logger
}

func NewService(store store, verifier verifier, logger *slog.Logger) Service {
	return &service{store: store, verifier: verifier, log: logger.With("component", "link-click")}
}

// Confirm verifies token and moves its request to Confirmed. Signature
// failures are returned unchanged and mutate nothing. Clicks on a request
// that is already settled report the settled state without an error.
func (s *service) Confirm(ctx context.Context, token string) (Outcome, *domain.ConfirmationRequest, error) {
	key, err := s.verifier.Verify(token, domain.PurposeConfirmLink)
	if err != nil {
		metrics.LinkClicks.WithLabelValues("rejected").Inc()
		return "", nil, err
	}

	cur, err := s.store.Get(ctx, key)
	if err != nil {
		return "", nil, err
	}
	if outcome, ok := settled(cur.State); ok {
		metrics.LinkClicks.WithLabelValues(string(outcome)).Inc()
		return outcome, cur, nil
	}
	if cur.State == domain.StateCreated {
		return "", cur, fmt.Errorf("confirmation %s: %w", key, domain.ErrNotReady)
	}

	next, err := s.store.Transition(ctx, key, cur.Version, domain.StateConfirmed)
	if err != nil {
		if !errors.Is(err, domain.ErrVersionConflict) && !errors.Is(err, domain.ErrInvalidTransition) {
			return "", nil, err
		}
		latest, gerr := s.store.Get(ctx, key)
		if gerr != nil {
			return "", nil, gerr
		}
		if outcome, ok := settled(latest.State); ok {
			metrics.LinkClicks.WithLabelValues(string(outcome)).Inc()
			return outcome, latest, nil
		}
		return "", nil, err
	}

	metrics.LinkClicks.WithLabelValues(string(OutcomeConfirmed)).Inc()
	s.log.Info("confirmation recorded", "key", key, "version", next.Version)
	return OutcomeConfirmed, next, nil
}

func settled(st domain.State) (Outcome, bool) {
	switch st {
	case domain.StateConfirmed, domain.StateDone:
		return OutcomeAlreadyConfirmed, true
	case domain.StateExpired:
		return OutcomeAlreadyExpired, true
	}
	return "", false
}
