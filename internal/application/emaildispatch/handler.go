// Package emaildispatch sends the confirmation email for newly created
// requests and records that it went out.
package emaildispatch

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/infrastructure/mailer"
	"github.com/email-confirmation-service/internal/metrics"
	"github.com/juju/clock"
)

const confirmPath = "/v1/confirmations/confirm"

type store interface {
	Get(ctx context.Context, key string) (*domain.ConfirmationRequest, error)
	Transition(ctx context.Context, key string, expectedVersion int64, to domain.State) (*domain.ConfirmationRequest, error)
}

type issuer interface {
	Issue(subject string, purpose domain.Purpose, ttl time.Duration) (domain.SignedToken, error)
}

type Deps struct {
	Store       store
	Signer      issuer
	Mailer      mailer.Mailer
	LinkBaseURL string
	Clock       clock.Clock
	Logger      *slog.Logger
}

type Handler struct {
	store   store
	signer  issuer
	mailer  mailer.Mailer
	baseURL string
	clock   clock.Clock
	log     *slog.Logger
}

func New(deps Deps) *Handler {
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Handler{
		store:   deps.Store,
		signer:  deps.Signer,
		mailer:  deps.Mailer,
		baseURL: strings.TrimRight(deps.LinkBaseURL, "/"),
		clock:   clk,
		log:     deps.Logger.With("component", "email-dispatch"),
	}
}

// Handle sends the link email for a creation event. Redelivery after the
// EmailSent transition is a no-op; a mailer failure leaves the state alone
// and is returned for retry.
func (h *Handler) Handle(ctx context.Context, rec domain.ChangeRecord) error {
	cur, err := h.store.Get(ctx, rec.Key)
	if err != nil {
		return fmt.Errorf("load %s: %w", rec.Key, err)
	}
	if cur.State != domain.StateCreated {
		metrics.EmailsSent.WithLabelValues("skipped").Inc()
		return nil
	}

	ttl := cur.ExpiresAt.Sub(h.clock.Now())
	if ttl <= 0 {
		h.log.Info("request expired before email dispatch", "key", cur.Key)
		metrics.EmailsSent.WithLabelValues("expired").Inc()
		return nil
	}

	tok, err := h.signer.Issue(cur.Key, domain.PurposeConfirmLink, ttl)
	if err != nil {
		return fmt.Errorf("issue link token for %s: %w", cur.Key, err)
	}
	msg, err := h.compose(cur, tok)
	if err != nil {
		return err
	}
	if err := h.mailer.Send(ctx, msg); err != nil {
		metrics.EmailsSent.WithLabelValues("failed").Inc()
		return fmt.Errorf("send confirmation email for %s: %v: %w", cur.Key, err, domain.ErrDispatchFailure)
	}

	if _, err := h.store.Transition(ctx, cur.Key, cur.Version, domain.StateEmailSent); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrInvalidTransition) {
			h.log.Info("email already recorded by a concurrent delivery", "key", cur.Key)
			return nil
		}
		return fmt.Errorf("mark %s email sent: %w", cur.Key, err)
	}
	metrics.EmailsSent.WithLabelValues("sent").Inc()
	h.log.Info("confirmation email sent", "key", cur.Key)
	return nil
}

// Link returns the confirmation URL carrying token.
func (h *Handler) Link(token string) string {
	return h.baseURL + confirmPath + "?token=" + url.QueryEscape(token)
}

var htmlBody = template.Must(template.New("email").Parse(
	`<p>Please confirm your email address.</p>
<p><a href="{{.Link}}">Confirm email</a></p>
<p>This link expires at {{.Expires}}.</p>
`))

func (h *Handler) compose(c *domain.ConfirmationRequest, tok domain.SignedToken) (mailer.Message, error) {
	link := h.Link(tok.Value)
	expires := tok.ExpiresAt.UTC().Format(time.RFC1123)

	var html strings.Builder
	if err := htmlBody.Execute(&html, struct{ Link, Expires string }{link, expires}); err != nil {
		return mailer.Message{}, fmt.Errorf("render email: %w", err)
	}
	return mailer.Message{
		To:      c.Email,
		Subject: "Confirm your email address",
		Text:    fmt.Sprintf("Please confirm your email address by opening this link:\n\n%s\n\nThis link expires at %s.\n", link, expires),
		HTML:    html.String(),
	}, nil
}
