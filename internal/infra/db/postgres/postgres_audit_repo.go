package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"guest-access-gate/internal/domain"
	"guest-access-gate/internal/domain/model"
	"guest-access-gate/internal/domain/ports/repository"
)

var _ repository.AuditRepository = (*auditRepo)(nil)

type auditRepo struct{ pool *pgxpool.Pool }

func NewAuditRepo(pool *pgxpool.Pool) *auditRepo {
	return &auditRepo{pool: pool}
}

func (r *auditRepo) Save(ctx context.Context, tx repository.Tx, rec *model.ReconciliationAudit) error {
	const q = `
INSERT INTO reconciliation_audit (id, invoice_id, gateway_ref, got_sign, candidates, payload, outcome, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	ex, err := pick(r.pool, tx)
	if err != nil {
		return err
	}
	if _, err := ex.Exec(ctx, q,
		rec.ID, rec.InvoiceID, rec.GatewayRef, rec.GotSign,
		rec.Candidates, rec.Payload, rec.Outcome, rec.CreatedAt,
	); err != nil {
		return domain.ErrStorage
	}
	return nil
}
