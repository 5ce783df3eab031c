package model

import "time"

type GrantStatus string

const (
	GrantStatusCreated  GrantStatus = "created"  // invoice persisted, gateway may not have been contacted yet
	GrantStatusPaid     GrantStatus = "paid"     // webhook or fallback poll confirmed payment
	GrantStatusCanceled GrantStatus = "canceled" // explicit cancellation before payment
)

// AccessGrant records one guest invoice from creation through redemption.
// Token is the one-time capability handle later exchanged for a session;
// InvoiceID is the join key for webhook reconciliation.
type AccessGrant struct {
	Token           string
	InvoiceID       string
	GatewayRef      string // provider payment uuid, optional; kept for fallback status polling
	Status          GrantStatus
	FingerprintHash string // bound exactly once, at first redemption
	FirstSeenAddr   string
	CreatedAt       time.Time
	ExpiresAt       *time.Time
	PaidAt          *time.Time // set exactly once, when reconciliation first observes success
	UsedAt          *time.Time // set exactly once, when the downstream app consumes the session
}

func (g *AccessGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.Before(now)
}

// RequestContext carries the client-identifying attributes of an inbound
// request used for fingerprint binding and validation.
type RequestContext struct {
	UserAgent    string
	ForwardedFor string // raw X-Forwarded-For header value
	RemoteAddr   string // direct peer address, host only
}
