package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/email-confirmation-service/internal/application/callback"
	"github.com/email-confirmation-service/internal/domain"
)

type verifier interface {
	Verify(value string, expected domain.Purpose) (string, error)
}

// CallbackReceiver is a reference callback target that checks the
// notification signature and logs the confirmation.
type CallbackReceiver struct {
	verifier verifier
	log      *slog.Logger
}

func NewCallbackReceiver(v verifier, log *slog.Logger) *CallbackReceiver {
	return &CallbackReceiver{verifier: v, log: log}
}

func (h *CallbackReceiver) Receive(w http.ResponseWriter, r *http.Request) {
	var n callback.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := callback.VerifyNotification(h.verifier, n, r.Header.Get(callback.SignatureHeader)); err != nil {
		writeDomainError(w, err)
		return
	}
	h.log.InfoContext(r.Context(), "confirmation callback received", "key", n.Key, "confirmed_at", n.ConfirmedAt)
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "received"})
}
