package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/email-confirmation-service/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// SafeConfirmation is a ConfirmationRequest without the address or callback target.
type SafeConfirmation struct {
	Key         string       `json:"key"`
	ClientID    string       `json:"client_id,omitempty"`
	State       domain.State `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
	ConfirmedAt *time.Time   `json:"confirmed_at,omitempty"`
	Version     int64        `json:"version"`
}

func toSafeConfirmation(c *domain.ConfirmationRequest) *SafeConfirmation {
	if c == nil {
		return nil
	}
	return &SafeConfirmation{
		Key:         c.Key,
		ClientID:    c.ClientID,
		State:       c.State,
		CreatedAt:   c.CreatedAt,
		ExpiresAt:   c.ExpiresAt,
		ConfirmedAt: c.ConfirmedAt,
		Version:     c.Version,
	}
}

// CreatedEnvelope answers a creation.
type CreatedEnvelope struct {
	Key       string       `json:"key"`
	State     domain.State `json:"state"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// ConfirmEnvelope answers a link click.
type ConfirmEnvelope struct {
	Outcome      string            `json:"outcome"`
	Confirmation *SafeConfirmation `json:"confirmation,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}
