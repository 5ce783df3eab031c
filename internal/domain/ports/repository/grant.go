package repository

import (
	"context"
	"time"

	"guest-access-gate/internal/domain/model"
)

// Tx is an opaque transaction handle. The concrete type is infra-defined
// (pgx.Tx for Postgres); repositories must gracefully accept nil for the
// non-transactional path.
type Tx interface{}

// GrantRepository persists AccessGrant rows keyed by invoice id and by token.
//
// The conditional mutators (MarkPaid, CancelIfNotPaid, BindFingerprint,
// MarkUsed) return whether the row was actually changed: the update only
// applies when the guarded column is still in its pre-transition state, which
// is how duplicate webhooks and concurrent redemptions are collapsed into a
// single winner.
type GrantRepository interface {
	Save(ctx context.Context, tx Tx, g *model.AccessGrant) error
	FindByInvoiceID(ctx context.Context, tx Tx, invoiceID string) (*model.AccessGrant, error)
	FindByToken(ctx context.Context, tx Tx, token string) (*model.AccessGrant, error)

	// SetGatewayRef stores the provider's own payment reference. Best-effort
	// from the caller's point of view; failures are logged, not surfaced.
	SetGatewayRef(ctx context.Context, tx Tx, invoiceID, ref string) error

	MarkPaid(ctx context.Context, tx Tx, invoiceID string, paidAt time.Time, expiresAt *time.Time) (bool, error)
	CancelIfNotPaid(ctx context.Context, tx Tx, invoiceID string) (bool, error)
	BindFingerprint(ctx context.Context, tx Tx, invoiceID, fpHash, addr string) (bool, error)
	MarkUsed(ctx context.Context, tx Tx, token string, usedAt time.Time) (bool, error)
}

// AuditRepository stores reconciliation-ambiguity records for manual review.
type AuditRepository interface {
	Save(ctx context.Context, tx Tx, rec *model.ReconciliationAudit) error
}
