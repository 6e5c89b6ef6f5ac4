package handler

import (
	"errors"
	"net/http"

	"github.com/email-confirmation-service/internal/domain"
)

// statusFor maps domain sentinels onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest), errors.Is(err, domain.ErrMalformedToken):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrWrongPurpose), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotReady):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeDomainError writes err with its mapped status. Internal errors are not echoed.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}
