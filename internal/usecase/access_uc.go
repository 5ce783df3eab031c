// File: internal/usecase/access_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"guest-access-gate/internal/domain"
	"guest-access-gate/internal/domain/model"
	"guest-access-gate/internal/domain/ports/adapter"
	"guest-access-gate/internal/domain/ports/repository"
	"guest-access-gate/internal/infra/metrics"
)

// Compile-time check
var _ AccessUseCase = (*accessUC)(nil)

// ReconcileOutcome classifies what a webhook did internally. The transport
// answer to the gateway is always a plain acknowledgement regardless.
type ReconcileOutcome string

const (
	OutcomeReconciledPaid     ReconcileOutcome = "reconciled_paid"
	OutcomeReconciledNotPaid  ReconcileOutcome = "reconciled_not_paid"
	OutcomeIgnoredNotFound    ReconcileOutcome = "ignored_not_found"
	OutcomeIgnoredNoInvoiceID ReconcileOutcome = "ignored_no_invoice_id"
)

// paidStatuses are the provider statuses treated as payment success by the
// fallback poll. "billing" is an intermediate phase that in practice always
// precedes irreversible settlement.
var paidStatuses = map[string]bool{
	"paid":      true,
	"success":   true,
	"completed": true,
	"billing":   true,
}

type CreateInvoiceResult struct {
	CheckoutURL string
	InvoiceID   string
}

type AccessUseCase interface {
	// CreateInvoice persists a grant and opens a checkout session with the
	// gateway for the chosen payment system.
	CreateInvoice(ctx context.Context, paymentSystem string) (*CreateInvoiceResult, error)
	// ReconcileWebhook turns a gateway callback into a paid/not-paid
	// determination. The returned error is for logging only; callers must
	// still acknowledge the webhook.
	ReconcileWebhook(ctx context.Context, p model.CallbackPayload) (ReconcileOutcome, error)
	// Cancel marks an unpaid grant canceled. Idempotent; a no-op once paid.
	Cancel(ctx context.Context, invoiceID string) error
	// Redeem exchanges a paid invoice for its grant exactly once, binding the
	// caller's fingerprint in the process.
	Redeem(ctx context.Context, invoiceID string, rc model.RequestContext) (*model.AccessGrant, error)
	// ValidateSession reports whether the token still authorizes the caller.
	ValidateSession(ctx context.Context, token string, rc model.RequestContext) bool
	// ConsumeSession permanently invalidates the token.
	ConsumeSession(ctx context.Context, token string) error
}

// Locker serializes redemptions per invoice. Optional; conditional updates
// alone still guarantee a single winner.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

type Options struct {
	AmountTiyin    int64
	ReturnURL      string
	CallbackURL    string
	AccessTTL      time.Duration
	PaymentSystems []string
}

type accessUC struct {
	grants   repository.GrantRepository
	audits   repository.AuditRepository
	gateway  adapter.PaymentGateway
	verifier adapter.WebhookVerifier
	fp       adapter.FingerprintBinder
	locker   Locker

	amount    int64
	returnURL string
	cbURL     string
	accessTTL time.Duration
	allowed   map[string]bool

	log *zerolog.Logger
}

func NewAccessUseCase(
	grants repository.GrantRepository,
	audits repository.AuditRepository,
	gateway adapter.PaymentGateway,
	verifier adapter.WebhookVerifier,
	fp adapter.FingerprintBinder,
	locker Locker,
	opts Options,
	logger *zerolog.Logger,
) *accessUC {
	allowed := make(map[string]bool, len(opts.PaymentSystems))
	for _, ps := range opts.PaymentSystems {
		allowed[strings.ToLower(strings.TrimSpace(ps))] = true
	}
	return &accessUC{
		grants:    grants,
		audits:    audits,
		gateway:   gateway,
		verifier:  verifier,
		fp:        fp,
		locker:    locker,
		amount:    opts.AmountTiyin,
		returnURL: opts.ReturnURL,
		cbURL:     opts.CallbackURL,
		accessTTL: opts.AccessTTL,
		allowed:   allowed,
		log:       logger,
	}
}

func (u *accessUC) CreateInvoice(ctx context.Context, paymentSystem string) (*CreateInvoiceResult, error) {
	ps := strings.ToLower(strings.TrimSpace(paymentSystem))
	if !u.allowed[ps] {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPaymentSystem, paymentSystem)
	}

	invoiceID := uuid.NewString()
	token := uuid.NewString()

	// The grant is persisted before the gateway is contacted, so a gateway
	// failure still leaves an auditable, cancelable record.
	g := &model.AccessGrant{
		Token:     token,
		InvoiceID: invoiceID,
		Status:    model.GrantStatusCreated,
		CreatedAt: time.Now(),
	}
	if err := u.grants.Save(ctx, nil, g); err != nil {
		metrics.IncInvoiceFailed("storage")
		return nil, fmt.Errorf("%w: persist grant: %v", domain.ErrStorage, err)
	}

	u.log.Info().
		Str("invoice_id", invoiceID).
		Str("ps", ps).
		Int64("amount_tiyin", u.amount).
		Msg("guest invoice created")

	resp, err := u.gateway.CreatePayment(ctx, adapter.CreatePaymentRequest{
		Amount:        u.amount,
		InvoiceID:     invoiceID,
		PaymentSystem: ps,
		ReturnURL:     fmt.Sprintf("%s?externalId=%s", u.returnURL, invoiceID),
		CallbackURL:   u.cbURL,
		Lang:          "ru",
		BillingID:     "guest:" + invoiceID,
	})
	if err != nil {
		// The created row stays behind; operational cleanup is out of scope.
		metrics.IncInvoiceFailed("gateway")
		u.log.Error().Err(err).Str("invoice_id", invoiceID).Msg("gateway payment creation failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentCreationFailed, err)
	}
	if resp.CheckoutURL == "" {
		metrics.IncInvoiceFailed("protocol")
		return nil, fmt.Errorf("%w: no checkout url in response", domain.ErrGatewayProtocol)
	}

	// The provider's own reference only matters for fallback polling;
	// failing to store it is logged, never surfaced.
	if resp.UUID != "" {
		if err := u.grants.SetGatewayRef(ctx, nil, invoiceID, resp.UUID); err != nil {
			u.log.Warn().Err(err).Str("invoice_id", invoiceID).Msg("failed to store gateway reference")
		}
	}

	metrics.IncInvoiceCreated(ps)
	return &CreateInvoiceResult{CheckoutURL: resp.CheckoutURL, InvoiceID: invoiceID}, nil
}

func (u *accessUC) ReconcileWebhook(ctx context.Context, p model.CallbackPayload) (ReconcileOutcome, error) {
	log := u.log.With().Str("invoice_id", p.InvoiceID).Str("gateway_ref", p.UUID).Logger()

	if p.InvoiceID == "" {
		u.log.Warn().Msg("webhook missing invoice_id")
		metrics.IncWebhookOutcome(string(OutcomeIgnoredNoInvoiceID))
		return OutcomeIgnoredNoInvoiceID, nil
	}

	sig := u.verifier.Verify(p)
	paid := sig.Valid
	if sig.Valid {
		log.Info().Str("scheme", sig.Scheme).Msg("webhook signature verified")
	} else {
		log.Warn().
			Str("got_sign", p.Sign).
			Interface("candidates", sig.Candidates).
			Msg("webhook signature invalid, trying fallback")
		paid = u.fallbackPaid(ctx, &log, p)
	}

	if !paid {
		// Ambiguity is resolved to not-paid, never surfaced. The audit row
		// keeps enough detail for manual review.
		u.recordAudit(ctx, p, sig, string(OutcomeReconciledNotPaid))
		metrics.IncWebhookOutcome(string(OutcomeReconciledNotPaid))
		return OutcomeReconciledNotPaid, nil
	}

	g, err := u.grants.FindByInvoiceID(ctx, nil, p.InvoiceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("webhook for unknown invoice")
			metrics.IncWebhookOutcome(string(OutcomeIgnoredNotFound))
			return OutcomeIgnoredNotFound, nil
		}
		metrics.IncWebhookOutcome(string(OutcomeIgnoredNotFound))
		return OutcomeIgnoredNotFound, fmt.Errorf("%w: load grant: %v", domain.ErrStorage, err)
	}

	if g.Status == model.GrantStatusPaid {
		// Duplicate webhook: paid_at is already set, perform no write.
		log.Info().Msg("duplicate paid webhook, no-op")
		metrics.IncWebhookOutcome(string(OutcomeReconciledPaid))
		return OutcomeReconciledPaid, nil
	}

	now := time.Now()
	var expiresAt *time.Time
	if u.accessTTL > 0 {
		e := now.Add(u.accessTTL)
		expiresAt = &e
	}
	changed, err := u.grants.MarkPaid(ctx, nil, p.InvoiceID, now, expiresAt)
	if err != nil {
		return OutcomeReconciledPaid, fmt.Errorf("%w: mark paid: %v", domain.ErrStorage, err)
	}
	if !changed {
		// Lost the race to a concurrent duplicate; same externally-observed
		// success either way.
		log.Info().Msg("grant already marked paid concurrently")
	} else {
		log.Info().Int64("amount", p.Amount).Msg("grant marked paid")
	}
	metrics.IncWebhookOutcome(string(OutcomeReconciledPaid))
	return OutcomeReconciledPaid, nil
}

// fallbackPaid polls the provider for the payment status when the signature
// did not verify. Absence of a reference, or any status outside the known
// paid set, means not-paid.
func (u *accessUC) fallbackPaid(ctx context.Context, log *zerolog.Logger, p model.CallbackPayload) bool {
	if p.UUID == "" {
		return false
	}
	status, err := u.gateway.GetPaymentStatus(ctx, p.UUID)
	if err != nil {
		log.Error().Err(err).Msg("fallback status poll failed")
		return false
	}
	if !paidStatuses[status] {
		log.Warn().Str("status", status).Msg("fallback status is not paid")
		return false
	}
	log.Info().Str("status", status).Msg("fallback status poll confirmed payment")
	return true
}

func (u *accessUC) recordAudit(ctx context.Context, p model.CallbackPayload, sig adapter.SignatureResult, outcome string) {
	if u.audits == nil {
		return
	}
	rec := &model.ReconciliationAudit{
		ID:         ulid.Make().String(),
		InvoiceID:  p.InvoiceID,
		GatewayRef: p.UUID,
		GotSign:    p.Sign,
		Candidates: sig.Candidates,
		Payload:    p.Fields,
		Outcome:    outcome,
		CreatedAt:  time.Now(),
	}
	if err := u.audits.Save(ctx, nil, rec); err != nil {
		u.log.Error().Err(err).Str("invoice_id", p.InvoiceID).Msg("failed to store reconciliation audit")
	}
}

func (u *accessUC) Cancel(ctx context.Context, invoiceID string) error {
	changed, err := u.grants.CancelIfNotPaid(ctx, nil, invoiceID)
	if err != nil {
		return fmt.Errorf("%w: cancel grant: %v", domain.ErrStorage, err)
	}
	if !changed {
		u.log.Info().Str("invoice_id", invoiceID).Msg("cancel skipped: grant paid or missing")
	}
	return nil
}

func (u *accessUC) Redeem(ctx context.Context, invoiceID string, rc model.RequestContext) (*model.AccessGrant, error) {
	g, err := u.grants.FindByInvoiceID(ctx, nil, invoiceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncRedemption("not_found")
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: load grant: %v", domain.ErrStorage, err)
	}

	if g.Status != model.GrantStatusPaid {
		metrics.IncRedemption("not_paid")
		return nil, domain.ErrPaymentNotCompleted
	}
	if g.UsedAt != nil || g.FingerprintHash != "" {
		metrics.IncRedemption("consumed")
		return nil, domain.ErrAlreadyConsumed
	}
	if g.Expired(time.Now()) {
		metrics.IncRedemption("expired")
		return nil, domain.ErrExpired
	}

	if u.locker != nil {
		lockKey := "guest:redeem:" + invoiceID
		lockToken, err := u.locker.TryLock(ctx, lockKey, 5*time.Second)
		switch {
		case err == nil:
			defer func() { _ = u.locker.Unlock(ctx, lockKey, lockToken) }()
		case errors.Is(err, domain.ErrLockBusy):
			// Someone else is mid-redemption on this invoice right now.
			metrics.IncRedemption("locked")
			return nil, domain.ErrAlreadyConsumed
		default:
			// A broken lock backend must not refuse redemptions; the
			// conditional fingerprint update below still picks one winner.
			u.log.Warn().Err(err).Str("invoice_id", invoiceID).Msg("redemption lock unavailable, relying on row guard")
		}
	}

	// Fingerprint binding happens here, not at invoice creation: the redirect
	// hop from the gateway frequently differs in user agent and network path
	// from the original purchaser.
	fp := u.fp.Fingerprint(rc)
	bound, err := u.grants.BindFingerprint(ctx, nil, invoiceID, fp, rc.RemoteAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: bind fingerprint: %v", domain.ErrStorage, err)
	}
	if !bound {
		metrics.IncRedemption("consumed")
		return nil, domain.ErrAlreadyConsumed
	}

	g.FingerprintHash = fp
	g.FirstSeenAddr = rc.RemoteAddr

	metrics.IncRedemption("ok")
	u.log.Info().Str("invoice_id", invoiceID).Msg("guest access redeemed")
	return g, nil
}

func (u *accessUC) ValidateSession(ctx context.Context, token string, rc model.RequestContext) bool {
	g, err := u.grants.FindByToken(ctx, nil, token)
	if err != nil {
		metrics.IncSessionValidation(false)
		return false
	}
	if g.UsedAt != nil || g.Expired(time.Now()) || g.FingerprintHash == "" {
		metrics.IncSessionValidation(false)
		return false
	}

	ok := g.FingerprintHash == u.fp.Fingerprint(rc)
	if !ok {
		u.log.Warn().Str("invoice_id", g.InvoiceID).Msg("session fingerprint mismatch")
	}
	metrics.IncSessionValidation(ok)
	return ok
}

func (u *accessUC) ConsumeSession(ctx context.Context, token string) error {
	changed, err := u.grants.MarkUsed(ctx, nil, token, time.Now())
	if err != nil {
		return fmt.Errorf("%w: mark used: %v", domain.ErrStorage, err)
	}
	if changed {
		u.log.Info().Msg("guest session consumed")
	}
	return nil
}
