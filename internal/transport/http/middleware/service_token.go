package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/go-chi/chi/v5"
)

type contextKey string

const SubjectKey contextKey = "token_subject"

const signatureScheme = "Signature "

type verifier interface {
	Verify(value string, expected domain.Purpose) (string, error)
}

// RequireServiceToken validates an "Authorization: Signature <token>" header
// carrying a token of the given purpose. The token subject must equal the
// URL parameter named param.
func RequireServiceToken(v verifier, purpose domain.Purpose, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, signatureScheme) {
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			subject, err := v.Verify(strings.TrimPrefix(authHeader, signatureScheme), purpose)
			if err != nil {
				msg := "invalid signature"
				if errors.Is(err, domain.ErrExpired) {
					msg = "token expired"
				}
				writeJSONError(w, http.StatusUnauthorized, msg)
				return
			}
			if subject != chi.URLParam(r, param) {
				writeJSONError(w, http.StatusForbidden, "token not valid for this resource")
				return
			}
			ctx := context.WithValue(r.Context(), SubjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext extracts the verified token subject from the request context.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(SubjectKey).(string)
	return s, ok
}
