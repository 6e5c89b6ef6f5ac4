package http

import (
	"net/http"

	"github.com/email-confirmation-service/internal/application/confirmation"
	"github.com/email-confirmation-service/internal/application/linkclick"
	"github.com/email-confirmation-service/internal/config"
	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/metrics"
	"github.com/email-confirmation-service/internal/transport/http/handler"
	appmiddleware "github.com/email-confirmation-service/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(appmiddleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10, on public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	confirmSvc := confirmation.NewService(confirmation.ServiceDeps{
		Store:      deps.Store,
		DefaultTTL: cfg.DefaultTTL,
	})
	clickSvc := linkclick.NewService(deps.Store, deps.Engine, deps.Logger)

	healthH := handler.NewHealthHandler(deps.Checker)
	confirmH := handler.NewConfirmationHandler(confirmSvc, deps.Logger)
	linkH := handler.NewConfirmLinkHandler(clickSvc, cfg.ConfirmRedirectURL)
	receiverH := handler.NewCallbackReceiver(deps.Engine, deps.Logger)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health/live", healthH.Live)
		r.Get("/health/ready", healthH.Ready)

		r.With(sensitiveRL.Limit).Get("/confirmations/confirm", linkH.Confirm)
		r.With(sensitiveRL.Limit).Post("/confirmations", confirmH.Create)
		r.Get("/confirmations/{key}", confirmH.Get)

		r.Post("/callbacks/receive", receiverH.Receive)

		r.With(appmiddleware.RequireServiceToken(deps.Engine, domain.PurposeStatusUpdate, "key")).
			Put("/internal/confirmations/{key}/status", confirmH.SetStatus)
	})

	return r
}
