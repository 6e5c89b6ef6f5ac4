package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_ForwardOnly(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateCreated, StateEmailSent, true},
		{StateCreated, StateExpired, true},
		{StateEmailSent, StateConfirmed, true},
		{StateEmailSent, StateExpired, true},
		{StateConfirmed, StateDone, true},
		{StateCreated, StateConfirmed, false},
		{StateConfirmed, StateEmailSent, false},
		{StateConfirmed, StateExpired, false},
		{StateExpired, StateConfirmed, false},
		{StateDone, StateConfirmed, false},
		{StateEmailSent, StateEmailSent, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.True(t, StateExpired.Terminal())
	assert.True(t, StateDone.Terminal())
	assert.False(t, StateConfirmed.Terminal())
}

func TestApply_ConfirmedStampsConfirmedAt(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewConfirmation{Email: "a@b.com", CallbackTarget: "https://cb", TTL: time.Hour}.Build("K1", now)
	require.Equal(t, StateCreated, c.State)
	require.Equal(t, int64(1), c.Version)
	assert.Equal(t, now.Add(time.Hour), c.ExpiresAt)

	sent, err := c.Apply(StateEmailSent, now.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, sent.ConfirmedAt)
	assert.Equal(t, int64(2), sent.Version)

	confirmed, err := sent.Apply(StateConfirmed, now.Add(2*time.Second))
	require.NoError(t, err)
	require.NotNil(t, confirmed.ConfirmedAt)
	assert.Equal(t, now.Add(2*time.Second), *confirmed.ConfirmedAt)
	assert.Equal(t, c.ExpiresAt, confirmed.ExpiresAt)

	_, err = confirmed.Apply(StateEmailSent, now)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestParseState(t *testing.T) {
	s, err := ParseState("Confirmed")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, s)

	_, err = ParseState("Pending")
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestChangeRecord_Kind(t *testing.T) {
	created := ChangeRecord{Key: "K1", New: ConfirmationRequest{State: StateCreated}}
	assert.Equal(t, ChangeCreated, created.Kind())
	assert.False(t, created.StateChanged())

	prior := ConfirmationRequest{State: StateEmailSent}
	updated := ChangeRecord{Key: "K1", Prior: &prior, New: ConfirmationRequest{State: StateConfirmed}}
	assert.Equal(t, ChangeUpdated, updated.Kind())
	assert.True(t, updated.StateChanged())
}
