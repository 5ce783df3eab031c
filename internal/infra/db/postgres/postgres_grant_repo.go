package postgres

import (
	"errors"
	"time"

	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"guest-access-gate/internal/domain"
	"guest-access-gate/internal/domain/model"
	"guest-access-gate/internal/domain/ports/repository"
)

var _ repository.GrantRepository = (*grantRepo)(nil)

const grantColumns = `token, invoice_id, gateway_ref, status, fp_hash, first_addr, created_at, expires_at, paid_at, used_at`

type grantRepo struct{ pool *pgxpool.Pool }

func NewGrantRepo(pool *pgxpool.Pool) *grantRepo {
	return &grantRepo{pool: pool}
}

func (r *grantRepo) Save(ctx context.Context, tx repository.Tx, g *model.AccessGrant) error {
	const q = `
INSERT INTO guest_access (` + grantColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`

	ex, err := pick(r.pool, tx)
	if err != nil {
		return err
	}
	if _, err := ex.Exec(ctx, q,
		g.Token, g.InvoiceID, g.GatewayRef, g.Status, g.FingerprintHash,
		g.FirstSeenAddr, g.CreatedAt, g.ExpiresAt, g.PaidAt, g.UsedAt,
	); err != nil {
		return domain.ErrStorage
	}
	return nil
}

func (r *grantRepo) FindByInvoiceID(ctx context.Context, tx repository.Tx, invoiceID string) (*model.AccessGrant, error) {
	return r.findBy(ctx, tx, "invoice_id", invoiceID)
}

func (r *grantRepo) FindByToken(ctx context.Context, tx repository.Tx, token string) (*model.AccessGrant, error) {
	return r.findBy(ctx, tx, "token", token)
}

func (r *grantRepo) findBy(ctx context.Context, tx repository.Tx, column, value string) (*model.AccessGrant, error) {
	q := `SELECT ` + grantColumns + ` FROM guest_access WHERE ` + column + `=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"

	ex, err := pick(r.pool, tx)
	if err != nil {
		return nil, err
	}

	g := &model.AccessGrant{}
	row := ex.QueryRow(ctx, q, value)
	if err := row.Scan(
		&g.Token, &g.InvoiceID, &g.GatewayRef, &g.Status, &g.FingerprintHash,
		&g.FirstSeenAddr, &g.CreatedAt, &g.ExpiresAt, &g.PaidAt, &g.UsedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrStorage
	}
	return g, nil
}

func (r *grantRepo) SetGatewayRef(ctx context.Context, tx repository.Tx, invoiceID, ref string) error {
	const q = `UPDATE guest_access SET gateway_ref=$2 WHERE invoice_id=$1;`
	ex, err := pick(r.pool, tx)
	if err != nil {
		return err
	}
	if _, err := ex.Exec(ctx, q, invoiceID, ref); err != nil {
		return domain.ErrStorage
	}
	return nil
}

// MarkPaid transitions a grant to paid unless it already is. The status guard
// makes retried webhooks write paid_at exactly once; expires_at is stamped
// with the transition and never overwritten.
func (r *grantRepo) MarkPaid(ctx context.Context, tx repository.Tx, invoiceID string, paidAt time.Time, expiresAt *time.Time) (bool, error) {
	const q = `
UPDATE guest_access
   SET status='paid',
       paid_at=$2,
       expires_at=COALESCE(expires_at, $3)
 WHERE invoice_id=$1
   AND status <> 'paid';`

	ex, err := pick(r.pool, tx)
	if err != nil {
		return false, err
	}
	cmd, err := ex.Exec(ctx, q, invoiceID, paidAt, expiresAt)
	if err != nil {
		return false, domain.ErrStorage
	}
	return cmd.RowsAffected() >= 1, nil
}

// CancelIfNotPaid cancels a grant unless payment already succeeded. Canceling
// a paid grant is a no-op, never a status regression.
func (r *grantRepo) CancelIfNotPaid(ctx context.Context, tx repository.Tx, invoiceID string) (bool, error) {
	const q = `UPDATE guest_access SET status='canceled' WHERE invoice_id=$1 AND status <> 'paid';`
	ex, err := pick(r.pool, tx)
	if err != nil {
		return false, err
	}
	cmd, err := ex.Exec(ctx, q, invoiceID)
	if err != nil {
		return false, domain.ErrStorage
	}
	return cmd.RowsAffected() >= 1, nil
}

// BindFingerprint writes the fingerprint and first-seen address once. The
// fp_hash guard means exactly one of any concurrent redemption attempts wins.
func (r *grantRepo) BindFingerprint(ctx context.Context, tx repository.Tx, invoiceID, fpHash, addr string) (bool, error) {
	const q = `
UPDATE guest_access
   SET fp_hash=$2, first_addr=$3
 WHERE invoice_id=$1
   AND fp_hash='';`

	ex, err := pick(r.pool, tx)
	if err != nil {
		return false, err
	}
	cmd, err := ex.Exec(ctx, q, invoiceID, fpHash, addr)
	if err != nil {
		return false, domain.ErrStorage
	}
	return cmd.RowsAffected() >= 1, nil
}

// MarkUsed terminally consumes the token. Guarded on used_at so repeated
// consumption calls are idempotent.
func (r *grantRepo) MarkUsed(ctx context.Context, tx repository.Tx, token string, usedAt time.Time) (bool, error) {
	const q = `UPDATE guest_access SET used_at=$2 WHERE token=$1 AND used_at IS NULL;`
	ex, err := pick(r.pool, tx)
	if err != nil {
		return false, err
	}
	cmd, err := ex.Exec(ctx, q, token, usedAt)
	if err != nil {
		return false, domain.ErrStorage
	}
	return cmd.RowsAffected() >= 1, nil
}
