// Package signature issues and verifies the signed tokens that guard every
// confirmation link and every service-to-service call.
package signature

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"
	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest signing secret NewEngine accepts.
const MinSecretLength = 32

var purposes = []domain.Purpose{domain.PurposeConfirmLink, domain.PurposeServiceInvocation, domain.PurposeStatusUpdate}

// claims is the JWT payload. Pur carries the purpose so a token minted for
// one context cannot be replayed in another.
type claims struct {
	Purpose domain.Purpose `json:"pur"`
	jwt.RegisteredClaims
}

// Engine signs and verifies HS256 tokens. Each purpose signs with its own key
// derived from the shared secret; the keys never change after construction.
type Engine struct {
	keys   map[domain.Purpose][]byte
	clock  clock.Clock
	parser *jwt.Parser
}

// NewEngine derives the per-purpose keys from secret. A nil clk means wall time.
func NewEngine(secret []byte, clk clock.Clock) (*Engine, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if clk == nil {
		clk = clock.WallClock
	}
	keys := make(map[domain.Purpose][]byte, len(purposes))
	for _, p := range purposes {
		key := make([]byte, sha256.Size)
		r := hkdf.New(sha256.New, secret, nil, []byte("email-confirmation/"+string(p)))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("derive %s key: %w", p, err)
		}
		keys[p] = key
	}
	return &Engine{
		keys:  keys,
		clock: clk,
		// Expiry is checked by Verify against the engine clock.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Issue mints a token binding subject to purpose for ttl.
func (e *Engine) Issue(subject string, purpose domain.Purpose, ttl time.Duration) (domain.SignedToken, error) {
	if subject == "" {
		return domain.SignedToken{}, fmt.Errorf("empty subject: %w", domain.ErrMalformedToken)
	}
	key, ok := e.keys[purpose]
	if !ok {
		return domain.SignedToken{}, fmt.Errorf("unknown purpose %q: %w", purpose, domain.ErrMalformedToken)
	}
	if ttl <= 0 {
		return domain.SignedToken{}, fmt.Errorf("non-positive ttl %s: %w", ttl, domain.ErrMalformedToken)
	}

	now := e.clock.Now().UTC().Truncate(time.Second)
	exp := now.Add(ttl).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	value, err := token.SignedString(key)
	if err != nil {
		return domain.SignedToken{}, fmt.Errorf("sign token: %w", err)
	}
	return domain.SignedToken{
		Subject:   subject,
		Purpose:   purpose,
		IssuedAt:  now,
		ExpiresAt: exp,
		Value:     value,
	}, nil
}

// Verify checks value and returns its subject. Failures wrap
// domain.ErrInvalidSignature, domain.ErrWrongPurpose or domain.ErrExpired,
// checked in that order.
func (e *Engine) Verify(value string, expected domain.Purpose) (string, error) {
	var c claims
	_, err := e.parser.ParseWithClaims(value, &c, func(t *jwt.Token) (interface{}, error) {
		tc, ok := t.Claims.(*claims)
		if !ok {
			return nil, errors.New("unexpected claims type")
		}
		key, ok := e.keys[tc.Purpose]
		if !ok {
			return nil, fmt.Errorf("unknown purpose %q", tc.Purpose)
		}
		return key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if c.Subject == "" || c.ExpiresAt == nil {
		return "", fmt.Errorf("missing claims: %w", domain.ErrInvalidSignature)
	}
	if c.Purpose != expected {
		return "", fmt.Errorf("token for %q used as %q: %w", c.Purpose, expected, domain.ErrWrongPurpose)
	}
	if e.clock.Now().After(c.ExpiresAt.Time) {
		return "", fmt.Errorf("expired at %s: %w", c.ExpiresAt.Time.Format(time.RFC3339), domain.ErrExpired)
	}
	return c.Subject, nil
}
