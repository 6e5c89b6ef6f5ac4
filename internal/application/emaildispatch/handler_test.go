package emaildispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/infrastructure/mailer"
	"github.com/email-confirmation-service/internal/infrastructure/memstore"
	"github.com/email-confirmation-service/internal/signature"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const secret = "0123456789abcdef0123456789abcdef"

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fixture struct {
	store  *memstore.Store
	engine *signature.Engine
	mailer *fakeMailer
	clock  *testclock.Clock
	h      *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := testclock.NewClock(t0)
	engine, err := signature.NewEngine([]byte(secret), clk)
	require.NoError(t, err)
	f := &fixture{store: memstore.New(clk), engine: engine, mailer: &fakeMailer{}, clock: clk}
	f.h = New(Deps{
		Store:       f.store,
		Signer:      engine,
		Mailer:      f.mailer,
		LinkBaseURL: "https://confirm.example/",
		Clock:       clk,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) create(t *testing.T, key string) domain.ChangeRecord {
	t.Helper()
	c, err := f.store.Create(context.Background(), key, domain.NewConfirmation{
		Email: "alice@example.com", CallbackTarget: "https://cb.example/hook", TTL: time.Hour,
	})
	require.NoError(t, err)
	return domain.ChangeRecord{Key: key, New: *c, Sequence: "1"}
}

func TestHandle_SendsLinkAndMarksEmailSent(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "K1")

	require.NoError(t, f.h.Handle(context.Background(), rec))

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Contains(t, msg.Text, "https://confirm.example/v1/confirmations/confirm?token=")

	// The emailed token verifies as a confirm-link for K1 and lives until expiry.
	link := msg.Text[strings.Index(msg.Text, "https://"):]
	link = strings.TrimSpace(strings.SplitN(link, "\n", 2)[0])
	u, err := url.Parse(link)
	require.NoError(t, err)
	subject, err := f.engine.Verify(u.Query().Get("token"), domain.PurposeConfirmLink)
	require.NoError(t, err)
	assert.Equal(t, "K1", subject)

	got, err := f.store.Get(context.Background(), "K1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateEmailSent, got.State)
	assert.Equal(t, int64(2), got.Version)
}

func TestHandle_RedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "K1")

	require.NoError(t, f.h.Handle(context.Background(), rec))
	require.NoError(t, f.h.Handle(context.Background(), rec))

	assert.Len(t, f.mailer.sent, 1)
	got, _ := f.store.Get(context.Background(), "K1")
	assert.Equal(t, int64(2), got.Version)
}

func TestHandle_MailerFailureLeavesStateAndIsRetryable(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "K1")
	f.mailer.err = errors.New("connection refused")

	err := f.h.Handle(context.Background(), rec)
	assert.True(t, errors.Is(err, domain.ErrDispatchFailure))

	got, _ := f.store.Get(context.Background(), "K1")
	assert.Equal(t, domain.StateCreated, got.State)
}

func TestHandle_PastExpirySkipsSend(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "K1")
	f.clock.Advance(2 * time.Hour)

	require.NoError(t, f.h.Handle(context.Background(), rec))
	assert.Empty(t, f.mailer.sent)
	got, _ := f.store.Get(context.Background(), "K1")
	assert.Equal(t, domain.StateCreated, got.State)
}

func TestHandle_MissingRecordFails(t *testing.T) {
	f := newFixture(t)
	err := f.h.Handle(context.Background(), domain.ChangeRecord{Key: "nope"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// racingStore reports a concurrent writer on Transition.
type racingStore struct{ *memstore.Store }

func (s racingStore) Transition(context.Context, string, int64, domain.State) (*domain.ConfirmationRequest, error) {
	return nil, fmt.Errorf("race: %w", domain.ErrVersionConflict)
}

func TestHandle_ConcurrentTransitionIsAcked(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "K1")
	f.h.store = racingStore{f.store}

	assert.NoError(t, f.h.Handle(context.Background(), rec))
}

func TestLink_EscapesToken(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "https://confirm.example/v1/confirmations/confirm?token=a%2Bb%3D", f.h.Link("a+b="))
}
