package domain

import "time"

// Purpose binds a signed token to the context that may verify it.
type Purpose string

const (
	PurposeConfirmLink       Purpose = "confirm-link"
	PurposeServiceInvocation Purpose = "service-invocation"
	// PurposeStatusUpdate authorizes the internal status endpoint. Tokens of
	// this purpose are never sent outside the service.
	PurposeStatusUpdate Purpose = "status-update"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeConfirmLink || p == PurposeServiceInvocation || p == PurposeStatusUpdate
}

// SignedToken is a stateless, expiring credential for one subject and purpose.
// Value is the encoded form carried in links and headers; it embeds the signature.
type SignedToken struct {
	Subject   string
	Purpose   Purpose
	IssuedAt  time.Time
	ExpiresAt time.Time
	Value     string
}
