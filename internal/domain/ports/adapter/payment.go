package adapter

import (
	"context"

	"guest-access-gate/internal/domain/model"
)

// CreatePaymentRequest carries everything the provider needs to open a
// checkout session. Amount is in tiyin (minor units).
type CreatePaymentRequest struct {
	Amount        int64
	InvoiceID     string
	PaymentSystem string
	ReturnURL     string
	CallbackURL   string
	Lang          string
	BillingID     string
}

// PaymentResponse is the normalized create-payment result. The provider is
// observed to answer either with a flat object or a {success,data} wrapper,
// and to name the redirect URL either checkout_url or check_url; the gateway
// adapter collapses both. CheckoutURL may still be empty on a malformed
// response, which the caller must treat as a protocol error.
type PaymentResponse struct {
	CheckoutURL string
	UUID        string // provider's own payment reference
}

// PaymentGateway is the hex port for the payment provider.
type PaymentGateway interface {
	Name() string

	// Authenticate returns a bearer credential, refreshing the shared cache
	// when forced or when the cached one is about to expire.
	Authenticate(ctx context.Context, force bool) (string, error)
	// CreatePayment opens a payment and returns the normalized response.
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentResponse, error)
	// GetPaymentStatus fetches the provider-side status for a payment
	// reference. The returned status is lowercased and trimmed.
	GetPaymentStatus(ctx context.Context, reference string) (string, error)
}

// SignatureResult reports the outcome of webhook signature verification.
// Candidates holds every digest that was computed, keyed by scheme, so
// mismatches can be logged and audited.
type SignatureResult struct {
	Valid      bool
	Scheme     string
	Candidates map[string]string
}

// WebhookVerifier checks a webhook payload against the shared secret.
type WebhookVerifier interface {
	Verify(p model.CallbackPayload) SignatureResult
}

// FingerprintBinder derives a stable device/network fingerprint from a
// request context. The value is only ever compared for equality.
type FingerprintBinder interface {
	Fingerprint(rc model.RequestContext) string
}
