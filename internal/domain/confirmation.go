package domain

import (
	"fmt"
	"time"
)

// MaxTTL bounds how long a confirmation request may stay open.
const MaxTTL = 30 * 24 * time.Hour

// State is the lifecycle state of a ConfirmationRequest.
type State string

const (
	StateCreated   State = "Created"
	StateEmailSent State = "EmailSent"
	StateConfirmed State = "Confirmed"
	StateExpired   State = "Expired"
	// StateDone marks a confirmed request whose callback has fired.
	StateDone State = "Done"
)

// transitions lists the forward-only moves allowed out of each state.
var transitions = map[State][]State{
	StateCreated:   {StateEmailSent, StateExpired},
	StateEmailSent: {StateConfirmed, StateExpired},
	StateConfirmed: {StateDone},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateEmailSent, StateConfirmed, StateExpired, StateDone:
		return true
	}
	return false
}

// CanTransition reports whether to is reachable from s in one step.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// ParseState converts a wire value into a State.
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown state %q: %w", v, ErrBadRequest)
	}
	return s, nil
}

// ConfirmationRequest is one email confirmation and its lifecycle.
// PK: key. Timestamps are stored as Unix seconds.
type ConfirmationRequest struct {
	Key            string     `json:"key" dynamodbav:"key"`
	Email          string     `json:"email" dynamodbav:"email"`
	ClientID       string     `json:"client_id,omitempty" dynamodbav:"client_id,omitempty"`
	State          State      `json:"state" dynamodbav:"state"`
	CallbackTarget string     `json:"callback_target" dynamodbav:"callback_target"`
	CreatedAt      time.Time  `json:"created_at" dynamodbav:"created_at,unixtime"`
	ExpiresAt      time.Time  `json:"expires_at" dynamodbav:"expires_at,unixtime"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty" dynamodbav:"confirmed_at,omitempty,unixtime"`
	UpdatedAt      time.Time  `json:"updated_at" dynamodbav:"updated_at,unixtime"`
	Version        int64      `json:"version" dynamodbav:"version"`
}

// Expired reports whether the request is past its expiry at now.
func (c *ConfirmationRequest) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Apply returns a copy of c moved to state to at now. It enforces the
// transition table and stamps confirmed_at on entry to Confirmed.
func (c ConfirmationRequest) Apply(to State, now time.Time) (ConfirmationRequest, error) {
	if !c.State.CanTransition(to) {
		return c, fmt.Errorf("%s -> %s: %w", c.State, to, ErrInvalidTransition)
	}
	next := c
	next.State = to
	next.Version = c.Version + 1
	next.UpdatedAt = now
	if to == StateConfirmed {
		at := now
		next.ConfirmedAt = &at
	}
	return next, nil
}

// NewConfirmation is the input for creating a ConfirmationRequest.
type NewConfirmation struct {
	Email          string        `json:"email" validate:"required,email"`
	ClientID       string        `json:"client_id" validate:"omitempty,max=128"`
	CallbackTarget string        `json:"callback_target" validate:"required,httpurl"`
	TTL            time.Duration `json:"-" validate:"gt=0,max=720h"`
}

// Build constructs the initial record for key at now.
func (n NewConfirmation) Build(key string, now time.Time) ConfirmationRequest {
	now = now.UTC().Truncate(time.Second)
	return ConfirmationRequest{
		Key:            key,
		Email:          n.Email,
		ClientID:       n.ClientID,
		State:          StateCreated,
		CallbackTarget: n.CallbackTarget,
		CreatedAt:      now,
		ExpiresAt:      now.Add(n.TTL),
		UpdatedAt:      now,
		Version:        1,
	}
}
