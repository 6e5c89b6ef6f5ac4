package handler

import (
	"net/http"
	"net/url"

	"github.com/email-confirmation-service/internal/application/linkclick"
)

// ConfirmLinkHandler serves the link embedded in confirmation emails.
type ConfirmLinkHandler struct {
	svc         linkclick.Service
	redirectURL string
}

// NewConfirmLinkHandler redirects settled clicks to redirectURL when it is
// set and answers JSON otherwise.
func NewConfirmLinkHandler(svc linkclick.Service, redirectURL string) *ConfirmLinkHandler {
	return &ConfirmLinkHandler{svc: svc, redirectURL: redirectURL}
}

func (h *ConfirmLinkHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}
	outcome, c, err := h.svc.Confirm(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if h.redirectURL != "" {
		target, err := url.Parse(h.redirectURL)
		if err == nil {
			q := target.Query()
			q.Set("outcome", string(outcome))
			target.RawQuery = q.Encode()
			http.Redirect(w, r, target.String(), http.StatusFound)
			return
		}
	}
	writeJSON(w, http.StatusOK, ConfirmEnvelope{Outcome: string(outcome), Confirmation: toSafeConfirmation(c)})
}
