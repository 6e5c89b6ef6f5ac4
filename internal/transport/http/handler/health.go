package handler

import (
	"net/http"

	"github.com/email-confirmation-service/internal/health"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checker *health.Checker
}

func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.checker.Liveness(r.Context()))
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	res := h.checker.Readiness(r.Context())
	status := http.StatusOK
	if res.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}
