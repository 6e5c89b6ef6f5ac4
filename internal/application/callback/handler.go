// Package callback notifies the requesting service once a confirmation
// lands, signing each call so the receiver can check its origin.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/email-confirmation-service/internal/metrics"
	"github.com/hashicorp/go-cleanhttp"
)

// SignatureHeader carries the service-invocation token on callback requests.
const SignatureHeader = "X-Confirmation-Signature"

// Notification is the JSON body POSTed to a callback target.
type Notification struct {
	Key         string    `json:"key"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	Signature   string    `json:"signature"`
}

type store interface {
	Get(ctx context.Context, key string) (*domain.ConfirmationRequest, error)
	Transition(ctx context.Context, key string, expectedVersion int64, to domain.State) (*domain.ConfirmationRequest, error)
}

type issuer interface {
	Issue(subject string, purpose domain.Purpose, ttl time.Duration) (domain.SignedToken, error)
}

type verifier interface {
	Verify(value string, expected domain.Purpose) (string, error)
}

type Deps struct {
	Store    store
	Signer   issuer
	TokenTTL time.Duration
	Timeout  time.Duration
	// Client overrides the pooled HTTP client, mainly for tests.
	Client *http.Client
	Logger *slog.Logger
}

type Handler struct {
	store    store
	signer   issuer
	tokenTTL time.Duration
	client   *http.Client
	log      *slog.Logger
}

func New(deps Deps) *Handler {
	client := deps.Client
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		client.Timeout = deps.Timeout
	}
	ttl := deps.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Handler{
		store:    deps.Store,
		signer:   deps.Signer,
		tokenTTL: ttl,
		client:   client,
		log:      deps.Logger.With("component", "callback"),
	}
}

// Handle fires the callback for a confirmation event and marks the request
// Done. A request already Done is acked without a call.
func (h *Handler) Handle(ctx context.Context, rec domain.ChangeRecord) error {
	cur, err := h.store.Get(ctx, rec.Key)
	if err != nil {
		return fmt.Errorf("load %s: %w", rec.Key, err)
	}
	if cur.State != domain.StateConfirmed {
		metrics.CallbacksFired.WithLabelValues("skipped").Inc()
		return nil
	}

	tok, err := h.signer.Issue(cur.Key, domain.PurposeServiceInvocation, h.tokenTTL)
	if err != nil {
		return fmt.Errorf("issue callback token for %s: %w", cur.Key, err)
	}
	n := Notification{Key: cur.Key, Signature: tok.Value}
	if cur.ConfirmedAt != nil {
		n.ConfirmedAt = *cur.ConfirmedAt
	} else {
		n.ConfirmedAt = cur.UpdatedAt
	}
	if err := h.post(ctx, cur.CallbackTarget, n); err != nil {
		metrics.CallbacksFired.WithLabelValues("failed").Inc()
		return fmt.Errorf("callback for %s: %v: %w", cur.Key, err, domain.ErrDispatchFailure)
	}

	if _, err := h.store.Transition(ctx, cur.Key, cur.Version, domain.StateDone); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) || errors.Is(err, domain.ErrInvalidTransition) {
			h.log.Info("callback already recorded by a concurrent delivery", "key", cur.Key)
			return nil
		}
		return fmt.Errorf("mark %s done: %w", cur.Key, err)
	}
	metrics.CallbacksFired.WithLabelValues("delivered").Inc()
	h.log.Info("callback delivered", "key", cur.Key, "target", cur.CallbackTarget)
	return nil
}

func (h *Handler) post(ctx context.Context, target string, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, n.Signature)

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("target answered %d", resp.StatusCode)
	}
	return nil
}

// VerifyNotification checks that n was signed by this service for n.Key.
// header is the SignatureHeader value; when present it must match the body.
func VerifyNotification(v verifier, n Notification, header string) error {
	if header != "" && header != n.Signature {
		return fmt.Errorf("signature header does not match body: %w", domain.ErrInvalidSignature)
	}
	subject, err := v.Verify(n.Signature, domain.PurposeServiceInvocation)
	if err != nil {
		return err
	}
	if subject != n.Key {
		return fmt.Errorf("token subject %q does not match key %q: %w", subject, n.Key, domain.ErrInvalidSignature)
	}
	return nil
}
