//go:build !integration

package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"guest-access-gate/internal/config"
	"guest-access-gate/internal/domain"
	"guest-access-gate/internal/domain/ports/adapter"
)

// fakeMesh is a scriptable stand-in for the Multicard mesh API.
type fakeMesh struct {
	srv *httptest.Server

	authCalls   int32
	tokenTTL    time.Duration
	rawExpiry   string // overrides tokenTTL when set
	failAuth    bool
	expireToken bool // answer 401 once for the first bearer token issued

	createHandler func(w http.ResponseWriter, r *http.Request)
	statusHandler func(w http.ResponseWriter, r *http.Request)
}

func newFakeMesh(t *testing.T) *fakeMesh {
	t.Helper()
	m := &fakeMesh{tokenTTL: time.Hour}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", m.handleAuth)
	mux.HandleFunc("/payment", func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if m.createHandler != nil {
			m.createHandler(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"checkout_url": "https://checkout.example/x", "uuid": "mc-1"})
	})
	mux.HandleFunc("/payment/", func(w http.ResponseWriter, r *http.Request) {
		if !m.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if m.statusHandler != nil {
			m.statusHandler(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "created"})
	})
	m.srv = httptest.NewServer(mux)
	t.Cleanup(m.srv.Close)
	return m
}

func (m *fakeMesh) handleAuth(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt32(&m.authCalls, 1)
	if m.failAuth {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	expiry := m.rawExpiry
	if expiry == "" {
		expiry = time.Now().Add(m.tokenTTL).Format(expiredAtLayout)
	}
	json.NewEncoder(w).Encode(map[string]string{
		"access_token": fmt.Sprintf("tok-%d", n),
		"expired_at":   expiry,
	})
}

// authorized accepts any token the fake has issued, except the very first one
// when expireToken is set.
func (m *fakeMesh) authorized(r *http.Request) bool {
	got := r.Header.Get("Authorization")
	if got == "" {
		return false
	}
	if m.expireToken && got == "Bearer tok-1" {
		return false
	}
	return true
}

func newTestGateway(t *testing.T, m *fakeMesh) *MulticardGateway {
	t.Helper()
	logger := zerolog.Nop()
	gw, err := NewMulticardGateway(config.MulticardConfig{
		BaseURL:       m.srv.URL,
		ApplicationID: "app-id",
		Secret:        testSecret,
		StoreID:       777,
	}, NewAuthCache(), &logger)
	if err != nil {
		t.Fatalf("NewMulticardGateway: %v", err)
	}
	return gw
}

func TestMulticardGateway_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("should cache the token across calls", func(t *testing.T) {
		mesh := newFakeMesh(t)
		gw := newTestGateway(t, mesh)

		first, err := gw.Authenticate(ctx, false)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		second, err := gw.Authenticate(ctx, false)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if first != second {
			t.Errorf("cached token changed: %q vs %q", first, second)
		}
		if n := atomic.LoadInt32(&mesh.authCalls); n != 1 {
			t.Errorf("auth endpoint hit %d times, want 1", n)
		}
	})

	t.Run("should refresh a token inside the safety margin", func(t *testing.T) {
		mesh := newFakeMesh(t)
		mesh.tokenTTL = 5 * time.Second // below the 15s margin
		gw := newTestGateway(t, mesh)

		if _, err := gw.Authenticate(ctx, false); err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if _, err := gw.Authenticate(ctx, false); err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if n := atomic.LoadInt32(&mesh.authCalls); n != 2 {
			t.Errorf("auth endpoint hit %d times, want 2", n)
		}
	})

	t.Run("should refresh when forced", func(t *testing.T) {
		mesh := newFakeMesh(t)
		gw := newTestGateway(t, mesh)

		first, _ := gw.Authenticate(ctx, false)
		second, err := gw.Authenticate(ctx, true)
		if err != nil {
			t.Fatalf("Authenticate(force): %v", err)
		}
		if first == second {
			t.Error("forced refresh must mint a new token")
		}
	})

	t.Run("should survive an unparseable expiry via the fallback ttl", func(t *testing.T) {
		mesh := newFakeMesh(t)
		mesh.rawExpiry = "not-a-timestamp"
		gw := newTestGateway(t, mesh)

		if _, err := gw.Authenticate(ctx, false); err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		// The fallback TTL keeps the token cached well past the margin.
		if _, err := gw.Authenticate(ctx, false); err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if n := atomic.LoadInt32(&mesh.authCalls); n != 1 {
			t.Errorf("auth endpoint hit %d times, want 1", n)
		}
	})

	t.Run("should wrap provider rejections", func(t *testing.T) {
		mesh := newFakeMesh(t)
		mesh.failAuth = true
		gw := newTestGateway(t, mesh)

		if _, err := gw.Authenticate(ctx, false); !errors.Is(err, domain.ErrAuthenticationFailed) {
			t.Fatalf("got %v, want ErrAuthenticationFailed", err)
		}
	})
}

func TestMulticardGateway_CreatePayment(t *testing.T) {
	ctx := context.Background()

	request := adapter.CreatePaymentRequest{
		InvoiceID:     "inv-42",
		Amount:        500_000,
		PaymentSystem: "click",
		ReturnURL:     "https://pay.example/guest/enter?externalId=inv-42",
		CallbackURL:   "https://pay.example/guest/multicard/callback",
		Lang:          "ru",
		BillingID:     "guest:inv-42",
	}

	t.Run("should decode a flat response", func(t *testing.T) {
		mesh := newFakeMesh(t)
		var gotBody map[string]any
		mesh.createHandler = func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&gotBody)
			json.NewEncoder(w).Encode(map[string]any{"checkout_url": "https://checkout.example/flat", "uuid": "mc-flat"})
		}
		gw := newTestGateway(t, mesh)

		res, err := gw.CreatePayment(ctx, request)
		if err != nil {
			t.Fatalf("CreatePayment: %v", err)
		}
		if res.CheckoutURL != "https://checkout.example/flat" || res.UUID != "mc-flat" {
			t.Errorf("unexpected response: %+v", res)
		}
		if gotBody["billing_id"] != "guest:inv-42" {
			t.Errorf("billing_id = %v, want guest:inv-42", gotBody["billing_id"])
		}
		if gotBody["store_id"] != float64(777) {
			t.Errorf("store_id = %v, want 777", gotBody["store_id"])
		}
	})

	t.Run("should unwrap a success envelope", func(t *testing.T) {
		mesh := newFakeMesh(t)
		mesh.createHandler = func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"check_url": "https://checkout.example/wrapped", "uuid": "mc-wrapped"},
			})
		}
		gw := newTestGateway(t, mesh)

		res, err := gw.CreatePayment(ctx, request)
		if err != nil {
			t.Fatalf("CreatePayment: %v", err)
		}
		if res.CheckoutURL != "https://checkout.example/wrapped" {
			t.Errorf("checkout url = %q, want the check_url alias", res.CheckoutURL)
		}
	})

	t.Run("should treat success=false as a rejection", func(t *testing.T) {
		mesh := newFakeMesh(t)
		mesh.createHandler = func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "limit exceeded"})
		}
		gw := newTestGateway(t, mesh)

		if _, err := gw.CreatePayment(ctx, request); !errors.Is(err, domain.ErrPaymentRejected) {
			t.Fatalf("got %v, want ErrPaymentRejected", err)
		}
	})

	t.Run("should treat a non-2xx as a rejection", func(t *testing.T) {
		mesh := newFakeMesh(t)
		mesh.createHandler = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad amount", http.StatusUnprocessableEntity)
		}
		gw := newTestGateway(t, mesh)

		if _, err := gw.CreatePayment(ctx, request); !errors.Is(err, domain.ErrPaymentRejected) {
			t.Fatalf("got %v, want ErrPaymentRejected", err)
		}
	})

	t.Run("should refresh and retry exactly once on a 401", func(t *testing.T) {
		mesh := newFakeMesh(t)
		mesh.expireToken = true
		gw := newTestGateway(t, mesh)

		res, err := gw.CreatePayment(ctx, request)
		if err != nil {
			t.Fatalf("CreatePayment after 401: %v", err)
		}
		if res.CheckoutURL == "" {
			t.Error("expected a checkout url from the retried call")
		}
		if n := atomic.LoadInt32(&mesh.authCalls); n != 2 {
			t.Errorf("auth endpoint hit %d times, want 2 (initial + forced refresh)", n)
		}
	})
}

func TestMulticardGateway_GetPaymentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject an empty reference locally", func(t *testing.T) {
		mesh := newFakeMesh(t)
		gw := newTestGateway(t, mesh)

		if _, err := gw.GetPaymentStatus(ctx, "  "); !errors.Is(err, domain.ErrInvalidReference) {
			t.Fatalf("got %v, want ErrInvalidReference", err)
		}
	})

	t.Run("should lowercase the status and unwrap data", func(t *testing.T) {
		mesh := newFakeMesh(t)
		mesh.statusHandler = func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/payment/mc-42" {
				t.Errorf("path = %s, want /payment/mc-42", r.URL.Path)
			}
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"status": " PAID "}})
		}
		gw := newTestGateway(t, mesh)

		status, err := gw.GetPaymentStatus(ctx, "mc-42")
		if err != nil {
			t.Fatalf("GetPaymentStatus: %v", err)
		}
		if status != "paid" {
			t.Errorf("status = %q, want paid", status)
		}
	})

	t.Run("should surface provider outages", func(t *testing.T) {
		mesh := newFakeMesh(t)
		mesh.statusHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}
		gw := newTestGateway(t, mesh)

		if _, err := gw.GetPaymentStatus(ctx, "mc-42"); !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("got %v, want ErrGatewayUnavailable", err)
		}
	})
}
