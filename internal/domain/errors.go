package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// Confirmation record store errors.
var (
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrVersionConflict   = errors.New("version conflict")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Signed token errors. A click carrying any of these is rejected for good.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrWrongPurpose     = errors.New("wrong token purpose")
	ErrExpired          = errors.New("token expired")
	ErrMalformedToken   = errors.New("malformed token input")
)

var (
	// ErrDispatchFailure marks email or callback transport errors; the stream
	// dispatcher retries entries that fail with it.
	ErrDispatchFailure = errors.New("dispatch failure")

	// ErrNotReady is returned when a link is clicked before the email transition
	// has been committed.
	ErrNotReady = errors.New("confirmation not ready")
)
