//go:build !integration

package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"guest-access-gate/internal/domain"
	"guest-access-gate/internal/domain/model"
	"guest-access-gate/internal/domain/ports/adapter"
	"guest-access-gate/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memGrantRepo is a small in-memory GrantRepository with the same conditional
// update semantics as the Postgres implementation.
type memGrantRepo struct {
	mu      sync.Mutex
	byInv   map[string]*model.AccessGrant
	saveErr error
}

func newMemGrantRepo() *memGrantRepo {
	return &memGrantRepo{byInv: make(map[string]*model.AccessGrant)}
}

func (m *memGrantRepo) Save(ctx context.Context, tx repository.Tx, g *model.AccessGrant) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.byInv[g.InvoiceID] = &cp
	return nil
}

func (m *memGrantRepo) FindByInvoiceID(ctx context.Context, tx repository.Tx, invoiceID string) (*model.AccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byInv[invoiceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memGrantRepo) FindByToken(ctx context.Context, tx repository.Tx, token string) (*model.AccessGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.byInv {
		if g.Token == token {
			cp := *g
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memGrantRepo) SetGatewayRef(ctx context.Context, tx repository.Tx, invoiceID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.byInv[invoiceID]; ok {
		g.GatewayRef = ref
	}
	return nil
}

func (m *memGrantRepo) MarkPaid(ctx context.Context, tx repository.Tx, invoiceID string, paidAt time.Time, expiresAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byInv[invoiceID]
	if !ok || g.Status == model.GrantStatusPaid {
		return false, nil
	}
	g.Status = model.GrantStatusPaid
	g.PaidAt = &paidAt
	if g.ExpiresAt == nil {
		g.ExpiresAt = expiresAt
	}
	return true, nil
}

func (m *memGrantRepo) CancelIfNotPaid(ctx context.Context, tx repository.Tx, invoiceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byInv[invoiceID]
	if !ok || g.Status == model.GrantStatusPaid {
		return false, nil
	}
	g.Status = model.GrantStatusCanceled
	return true, nil
}

func (m *memGrantRepo) BindFingerprint(ctx context.Context, tx repository.Tx, invoiceID, fpHash, addr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byInv[invoiceID]
	if !ok || g.FingerprintHash != "" {
		return false, nil
	}
	g.FingerprintHash = fpHash
	g.FirstSeenAddr = addr
	return true, nil
}

func (m *memGrantRepo) MarkUsed(ctx context.Context, tx repository.Tx, token string, usedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.byInv {
		if g.Token == token {
			if g.UsedAt != nil {
				return false, nil
			}
			g.UsedAt = &usedAt
			return true, nil
		}
	}
	return false, nil
}

// get returns the stored grant for assertions.
func (m *memGrantRepo) get(invoiceID string) *model.AccessGrant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byInv[invoiceID]
}

// memAuditRepo records audit rows for assertions.
type memAuditRepo struct {
	mu   sync.Mutex
	recs []*model.ReconciliationAudit
}

func newMemAuditRepo() *memAuditRepo { return &memAuditRepo{} }

func (m *memAuditRepo) Save(ctx context.Context, tx repository.Tx, rec *model.ReconciliationAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

// MockPaymentGateway lets tests script gateway behavior per call.
type MockPaymentGateway struct {
	AuthenticateFunc     func(ctx context.Context, force bool) (string, error)
	CreatePaymentFunc    func(ctx context.Context, req adapter.CreatePaymentRequest) (*adapter.PaymentResponse, error)
	GetPaymentStatusFunc func(ctx context.Context, reference string) (string, error)
}

func (m *MockPaymentGateway) Name() string { return "mock" }

func (m *MockPaymentGateway) Authenticate(ctx context.Context, force bool) (string, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, force)
	}
	return "tok", nil
}

func (m *MockPaymentGateway) CreatePayment(ctx context.Context, req adapter.CreatePaymentRequest) (*adapter.PaymentResponse, error) {
	if m.CreatePaymentFunc != nil {
		return m.CreatePaymentFunc(ctx, req)
	}
	return &adapter.PaymentResponse{CheckoutURL: "https://checkout.example/" + req.InvoiceID, UUID: "mc-" + req.InvoiceID}, nil
}

func (m *MockPaymentGateway) GetPaymentStatus(ctx context.Context, reference string) (string, error) {
	if m.GetPaymentStatusFunc != nil {
		return m.GetPaymentStatusFunc(ctx, reference)
	}
	return "created", nil
}

// MockVerifier scripts signature verification.
type MockVerifier struct {
	VerifyFunc func(p model.CallbackPayload) adapter.SignatureResult
}

func (m *MockVerifier) Verify(p model.CallbackPayload) adapter.SignatureResult {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(p)
	}
	return adapter.SignatureResult{Candidates: map[string]string{}}
}

// MockLocker scripts the redemption lock.
type MockLocker struct {
	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlocked    []string
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, key, ttl)
	}
	return "lock-token", nil
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.Unlocked = append(m.Unlocked, key)
	return nil
}
