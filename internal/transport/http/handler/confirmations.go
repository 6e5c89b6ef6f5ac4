package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/email-confirmation-service/internal/application/confirmation"
	"github.com/email-confirmation-service/internal/domain"
	appmiddleware "github.com/email-confirmation-service/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

// ConfirmationHandler handles creation, lookup and internal status updates.
type ConfirmationHandler struct {
	svc confirmation.Service
	log *slog.Logger
}

func NewConfirmationHandler(svc confirmation.Service, log *slog.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{svc: svc, log: log}
}

type createRequest struct {
	Email          string `json:"email"`
	ClientID       string `json:"client_id"`
	CallbackTarget string `json:"callback_target"`
	TTLSeconds     int64  `json:"ttl_seconds"`
}

func (h *ConfirmationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "ttl_seconds must be positive")
		return
	}
	if req.TTLSeconds > int64(domain.MaxTTL/time.Second) {
		writeError(w, http.StatusBadRequest, "ttl_seconds exceeds maximum")
		return
	}
	c, err := h.svc.Create(r.Context(), domain.NewConfirmation{
		Email:          req.Email,
		ClientID:       req.ClientID,
		CallbackTarget: req.CallbackTarget,
		TTL:            time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		h.logFailure(r, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedEnvelope{Key: c.Key, State: c.State, ExpiresAt: c.ExpiresAt})
}

func (h *ConfirmationHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.logFailure(r, err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSafeConfirmation(c))
}

type statusRequest struct {
	State           string `json:"state"`
	ExpectedVersion int64  `json:"expected_version"`
}

// SetStatus applies a state transition for an authenticated service caller.
func (h *ConfirmationHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := domain.ParseState(req.State)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	key, ok := appmiddleware.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	c, err := h.svc.SetStatus(r.Context(), key, req.ExpectedVersion, state)
	if err != nil {
		h.logFailure(r, err)
		writeDomainError(w, err)
		return
	}
	h.log.InfoContext(r.Context(), "status updated", "subject", key, "state", c.State, "version", c.Version)
	writeJSON(w, http.StatusOK, toSafeConfirmation(c))
}

func (h *ConfirmationHandler) logFailure(r *http.Request, err error) {
	if statusFor(err) == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "confirmation request failed", "path", r.URL.Path, "err", err)
	}
}
