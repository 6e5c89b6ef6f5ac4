package callback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/infrastructure/memstore"
	"github.com/email-confirmation-service/internal/signature"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const secret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	store  *memstore.Store
	engine *signature.Engine
	h      *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := testclock.NewClock(t0)
	engine, err := signature.NewEngine([]byte(secret), clk)
	require.NoError(t, err)
	f := &fixture{store: memstore.New(clk), engine: engine}
	f.h = New(Deps{
		Store:    f.store,
		Signer:   engine,
		TokenTTL: time.Minute,
		Timeout:  time.Second,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

// confirmed creates key pointing at target and walks it to Confirmed.
func (f *fixture) confirmed(t *testing.T, key, target string) domain.ChangeRecord {
	t.Helper()
	ctx := context.Background()
	c, err := f.store.Create(ctx, key, domain.NewConfirmation{Email: "a@example.com", CallbackTarget: target, TTL: time.Hour})
	require.NoError(t, err)
	c, err = f.store.Transition(ctx, key, c.Version, domain.StateEmailSent)
	require.NoError(t, err)
	prior := *c
	c, err = f.store.Transition(ctx, key, c.Version, domain.StateConfirmed)
	require.NoError(t, err)
	return domain.ChangeRecord{Key: key, Prior: &prior, New: *c}
}

func TestHandle_PostsSignedNotificationOnce(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	var got Notification
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		header = r.Header.Get(SignatureHeader)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec := f.confirmed(t, "K1", srv.URL)
	require.NoError(t, f.h.Handle(context.Background(), rec))
	// Redelivery after Done does not call again.
	require.NoError(t, f.h.Handle(context.Background(), rec))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "K1", got.Key)
	assert.Equal(t, t0, got.ConfirmedAt.UTC())
	assert.NoError(t, VerifyNotification(f.engine, got, header))

	c, err := f.store.Get(context.Background(), "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, c.State)
}

func TestHandle_Non2xxIsDispatchFailure(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := f.confirmed(t, "K1", srv.URL)
	err := f.h.Handle(context.Background(), rec)

	assert.True(t, errors.Is(err, domain.ErrDispatchFailure))
	c, _ := f.store.Get(context.Background(), "K1")
	assert.Equal(t, domain.StateConfirmed, c.State)
}

func TestHandle_UnreachableTargetIsDispatchFailure(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	rec := f.confirmed(t, "K1", target)
	err := f.h.Handle(context.Background(), rec)
	assert.True(t, errors.Is(err, domain.ErrDispatchFailure))
}

func TestVerifyNotification(t *testing.T) {
	f := newFixture(t)
	tok, err := f.engine.Issue("K1", domain.PurposeServiceInvocation, time.Minute)
	require.NoError(t, err)
	link, err := f.engine.Issue("K1", domain.PurposeConfirmLink, time.Minute)
	require.NoError(t, err)

	ok := Notification{Key: "K1", Signature: tok.Value}
	assert.NoError(t, VerifyNotification(f.engine, ok, ""))
	assert.NoError(t, VerifyNotification(f.engine, ok, tok.Value))

	err = VerifyNotification(f.engine, Notification{Key: "K2", Signature: tok.Value}, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature))

	err = VerifyNotification(f.engine, ok, "other")
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature))

	err = VerifyNotification(f.engine, Notification{Key: "K1", Signature: link.Value}, "")
	assert.True(t, errors.Is(err, domain.ErrWrongPurpose))
}
