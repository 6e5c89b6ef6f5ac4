package http

import (
	"log/slog"

	"github.com/email-confirmation-service/internal/application/confirmation"
	"github.com/email-confirmation-service/internal/health"
	"github.com/email-confirmation-service/internal/signature"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	// Store is *dynamo.ConfirmationRepo or *memstore.Store.
	Store   confirmation.Store
	Engine  *signature.Engine
	Checker *health.Checker
	Logger  *slog.Logger
}
