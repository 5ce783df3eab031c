//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"guest-access-gate/internal/domain"
	"guest-access-gate/internal/domain/model"
)

func newGrant() *model.AccessGrant {
	return &model.AccessGrant{
		Token:     uuid.NewString(),
		InvoiceID: uuid.NewString(),
		Status:    model.GrantStatusCreated,
		CreatedAt: time.Now().Truncate(time.Millisecond),
	}
}

func TestGrantRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewGrantRepo(testPool)

	t.Run("should save and find a grant by invoice id and token", func(t *testing.T) {
		cleanup(t)
		g := newGrant()

		if err := repo.Save(ctx, nil, g); err != nil {
			t.Fatalf("Failed to save grant: %v", err)
		}

		byInvoice, err := repo.FindByInvoiceID(ctx, nil, g.InvoiceID)
		if err != nil {
			t.Fatalf("FindByInvoiceID failed: %v", err)
		}
		if byInvoice.Token != g.Token || byInvoice.Status != model.GrantStatusCreated {
			t.Fatalf("did not find the correct grant by invoice id: %+v", byInvoice)
		}

		byToken, err := repo.FindByToken(ctx, nil, g.Token)
		if err != nil {
			t.Fatalf("FindByToken failed: %v", err)
		}
		if byToken.InvoiceID != g.InvoiceID {
			t.Fatal("did not find the correct grant by token")
		}

		if _, err := repo.FindByInvoiceID(ctx, nil, "no-such-invoice"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("missing row: got %v, want ErrNotFound", err)
		}
	})

	t.Run("should store the gateway reference", func(t *testing.T) {
		cleanup(t)
		g := newGrant()
		repo.Save(ctx, nil, g)

		if err := repo.SetGatewayRef(ctx, nil, g.InvoiceID, "mc-ref-1"); err != nil {
			t.Fatalf("SetGatewayRef failed: %v", err)
		}
		found, _ := repo.FindByInvoiceID(ctx, nil, g.InvoiceID)
		if found.GatewayRef != "mc-ref-1" {
			t.Errorf("gateway_ref = %q, want mc-ref-1", found.GatewayRef)
		}
	})

	t.Run("should mark paid exactly once", func(t *testing.T) {
		cleanup(t)
		g := newGrant()
		repo.Save(ctx, nil, g)

		paidAt := time.Now().Truncate(time.Millisecond)
		expiresAt := paidAt.Add(time.Hour)

		changed, err := repo.MarkPaid(ctx, nil, g.InvoiceID, paidAt, &expiresAt)
		if err != nil {
			t.Fatalf("MarkPaid failed: %v", err)
		}
		if !changed {
			t.Fatal("expected the first MarkPaid to change the row")
		}

		// Duplicate webhook delivery: guarded update writes nothing.
		laterExpiry := paidAt.Add(24 * time.Hour)
		changed, err = repo.MarkPaid(ctx, nil, g.InvoiceID, paidAt.Add(time.Minute), &laterExpiry)
		if err != nil {
			t.Fatalf("second MarkPaid failed: %v", err)
		}
		if changed {
			t.Error("expected the duplicate MarkPaid to be a no-op")
		}

		found, _ := repo.FindByInvoiceID(ctx, nil, g.InvoiceID)
		if found.Status != model.GrantStatusPaid {
			t.Errorf("status = %s, want paid", found.Status)
		}
		if found.PaidAt == nil || !found.PaidAt.Equal(paidAt) {
			t.Errorf("paid_at = %v, want the first write %v", found.PaidAt, paidAt)
		}
		if found.ExpiresAt == nil || !found.ExpiresAt.Equal(expiresAt) {
			t.Errorf("expires_at = %v, must keep the first write %v", found.ExpiresAt, expiresAt)
		}
	})

	t.Run("should cancel only while unpaid", func(t *testing.T) {
		cleanup(t)
		unpaid := newGrant()
		repo.Save(ctx, nil, unpaid)

		changed, err := repo.CancelIfNotPaid(ctx, nil, unpaid.InvoiceID)
		if err != nil || !changed {
			t.Fatalf("CancelIfNotPaid on unpaid grant = (%v, %v), want (true, nil)", changed, err)
		}

		paid := newGrant()
		repo.Save(ctx, nil, paid)
		repo.MarkPaid(ctx, nil, paid.InvoiceID, time.Now(), nil)

		changed, err = repo.CancelIfNotPaid(ctx, nil, paid.InvoiceID)
		if err != nil {
			t.Fatalf("CancelIfNotPaid on paid grant failed: %v", err)
		}
		if changed {
			t.Error("a paid grant must not be canceled")
		}
		found, _ := repo.FindByInvoiceID(ctx, nil, paid.InvoiceID)
		if found.Status != model.GrantStatusPaid {
			t.Errorf("status = %s, paid must never regress", found.Status)
		}
	})

	t.Run("should bind the fingerprint to exactly one concurrent winner", func(t *testing.T) {
		cleanup(t)
		g := newGrant()
		repo.Save(ctx, nil, g)
		repo.MarkPaid(ctx, nil, g.InvoiceID, time.Now(), nil)

		const attempts = 8
		var wg sync.WaitGroup
		wins := make(chan int, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				bound, err := repo.BindFingerprint(ctx, nil, g.InvoiceID, uuid.NewString(), "10.0.0.1")
				if err != nil {
					t.Errorf("BindFingerprint %d failed: %v", n, err)
					return
				}
				if bound {
					wins <- n
				}
			}(i)
		}
		wg.Wait()
		close(wins)

		var winners int
		for range wins {
			winners++
		}
		if winners != 1 {
			t.Fatalf("got %d winners, want exactly 1", winners)
		}

		// A later attempt on the bound row loses too.
		bound, err := repo.BindFingerprint(ctx, nil, g.InvoiceID, "late-fp", "10.0.0.2")
		if err != nil {
			t.Fatalf("late BindFingerprint failed: %v", err)
		}
		if bound {
			t.Error("a bound fingerprint must never be rewritten")
		}
	})

	t.Run("should mark used exactly once", func(t *testing.T) {
		cleanup(t)
		g := newGrant()
		repo.Save(ctx, nil, g)

		usedAt := time.Now().Truncate(time.Millisecond)
		changed, err := repo.MarkUsed(ctx, nil, g.Token, usedAt)
		if err != nil || !changed {
			t.Fatalf("first MarkUsed = (%v, %v), want (true, nil)", changed, err)
		}

		changed, err = repo.MarkUsed(ctx, nil, g.Token, usedAt.Add(time.Minute))
		if err != nil {
			t.Fatalf("second MarkUsed failed: %v", err)
		}
		if changed {
			t.Error("expected the second MarkUsed to be a no-op")
		}
		found, _ := repo.FindByToken(ctx, nil, g.Token)
		if found.UsedAt == nil || !found.UsedAt.Equal(usedAt) {
			t.Errorf("used_at = %v, want the first write %v", found.UsedAt, usedAt)
		}
	})
}
