package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/signature"
	"github.com/go-chi/chi/v5"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*signature.Engine, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	e, err := signature.NewEngine([]byte("0123456789abcdef0123456789abcdef"), clk)
	require.NoError(t, err)
	return e, clk
}

// serve routes PUT /c/{key} through RequireServiceToken.
func serve(e *signature.Engine, key, authHeader string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.With(RequireServiceToken(e, domain.PurposeStatusUpdate, "key")).Put("/c/{key}", func(w http.ResponseWriter, r *http.Request) {
		if s, ok := SubjectFromContext(r.Context()); ok && s != "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	req := httptest.NewRequest(http.MethodPut, "/c/"+key, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRequireServiceToken_MissingHeader(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "K1", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, "K1", "Bearer abc").Code)
}

func TestRequireServiceToken_Valid(t *testing.T) {
	e, _ := newTestEngine(t)
	tok, err := e.Issue("K1", domain.PurposeStatusUpdate, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(e, "K1", "Signature "+tok.Value).Code)
}

func TestRequireServiceToken_SubjectMismatch(t *testing.T) {
	e, _ := newTestEngine(t)
	tok, err := e.Issue("K1", domain.PurposeStatusUpdate, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, serve(e, "K2", "Signature "+tok.Value).Code)
}

func TestRequireServiceToken_WrongPurpose(t *testing.T) {
	e, _ := newTestEngine(t)
	tok, err := e.Issue("K1", domain.PurposeConfirmLink, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(e, "K1", "Signature "+tok.Value).Code)
}

func TestRequireServiceToken_Expired(t *testing.T) {
	e, clk := newTestEngine(t)
	tok, err := e.Issue("K1", domain.PurposeStatusUpdate, time.Minute)
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)

	rr := serve(e, "K1", "Signature "+tok.Value)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "token expired")
}

func TestRequireServiceToken_CallbackTokenRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	// Tokens handed to callback receivers must not authorize status updates.
	tok, err := e.Issue("K1", domain.PurposeServiceInvocation, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(e, "K1", "Signature "+tok.Value).Code)
}
