package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"guest-access-gate/internal/config"
	"guest-access-gate/internal/domain"
	"guest-access-gate/internal/domain/ports/adapter"
	"guest-access-gate/internal/infra/metrics"
)

// expiredAtLayout is the gateway's token expiry format ("2006-01-02 15:04:05").
const expiredAtLayout = "2006-01-02 15:04:05"

// authSafetyMargin forces a refresh when the cached token is this close to
// expiring, so in-flight calls don't race the expiry.
const authSafetyMargin = 15 * time.Second

// fallbackTokenTTL is assumed when the auth response carries no parseable
// expiry.
const fallbackTokenTTL = 10 * time.Minute

var _ adapter.PaymentGateway = (*MulticardGateway)(nil)

// AuthCache holds the process-wide bearer credential shared by all gateway
// calls. The mutex makes concurrent refreshes collapse into one exchange:
// whoever wins the lock refreshes, everyone else re-checks under it.
type AuthCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewAuthCache() *AuthCache { return &AuthCache{} }

// MulticardGateway implements adapter.PaymentGateway against the Multicard
// mesh API: bearer auth via /auth, payment creation via /payment, status
// lookup via /payment/{uuid}.
type MulticardGateway struct {
	baseURL       string
	applicationID string
	secret        string
	storeID       int64

	auth       *AuthCache
	authClient *http.Client
	payClient  *http.Client
	log        *zerolog.Logger
}

func NewMulticardGateway(cfg config.MulticardConfig, cache *AuthCache, logger *zerolog.Logger) (*MulticardGateway, error) {
	if cfg.ApplicationID == "" || cfg.Secret == "" || cfg.StoreID == 0 {
		return nil, fmt.Errorf("%w: multicard credentials not configured", domain.ErrInvalidArgument)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("%w: invalid base url: %v", domain.ErrInvalidArgument, err)
	}
	if cache == nil {
		cache = NewAuthCache()
	}
	return &MulticardGateway{
		baseURL:       base,
		applicationID: cfg.ApplicationID,
		secret:        cfg.Secret,
		storeID:       cfg.StoreID,
		auth:          cache,
		authClient:    &http.Client{Timeout: 15 * time.Second},
		payClient:     &http.Client{Timeout: 20 * time.Second},
		log:           logger,
	}, nil
}

func (g *MulticardGateway) Name() string { return "multicard" }

// Authenticate returns the cached bearer token unless force is set or the
// token expires within the safety margin.
func (g *MulticardGateway) Authenticate(ctx context.Context, force bool) (string, error) {
	g.auth.mu.Lock()
	defer g.auth.mu.Unlock()

	now := time.Now()
	if !force && g.auth.token != "" && g.auth.expiresAt.Add(-authSafetyMargin).After(now) {
		return g.auth.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"application_id": g.applicationID,
		"secret":         g.secret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.authClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.log.Error().Int("status", resp.StatusCode).Bytes("body", snippet).Msg("multicard auth failed")
		return "", fmt.Errorf("%w: http %d", domain.ErrAuthenticationFailed, resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
		ExpiredAt   string `json:"expired_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode auth response: %v", domain.ErrAuthenticationFailed, err)
	}

	token := out.AccessToken
	if token == "" {
		token = out.Token
	}
	if token == "" {
		return "", fmt.Errorf("%w: no usable token in auth response", domain.ErrAuthenticationFailed)
	}

	expiresAt := parseExpiredAt(out.ExpiredAt)
	if expiresAt.IsZero() {
		expiresAt = now.Add(fallbackTokenTTL)
	}

	g.auth.token = token
	g.auth.expiresAt = expiresAt
	metrics.IncAuthRefresh()
	g.log.Info().Time("expires_at", expiresAt).Msg("multicard token refreshed")
	return token, nil
}

func parseExpiredAt(value string) time.Time {
	t, err := time.Parse(expiredAtLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}
	}
	return t
}

// doAuthorized performs an authenticated call. If the provider answers 401 the
// credential is force-refreshed and the call retried exactly once, never more.
func (g *MulticardGateway) doAuthorized(ctx context.Context, build func(token string) (*http.Request, error)) (*http.Response, error) {
	token, err := g.Authenticate(ctx, false)
	if err != nil {
		return nil, err
	}
	req, err := build(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	resp, err := g.payClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	resp.Body.Close()

	g.log.Warn().Str("url", req.URL.Path).Msg("401 from multicard, refreshing token and retrying once")
	token, err = g.Authenticate(ctx, true)
	if err != nil {
		return nil, err
	}
	req, err = build(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	resp, err = g.payClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return resp, nil
}

// CreatePayment opens a checkout session for the given invoice.
func (g *MulticardGateway) CreatePayment(ctx context.Context, pr adapter.CreatePaymentRequest) (*adapter.PaymentResponse, error) {
	payload := map[string]any{
		"store_id":       g.storeID,
		"amount":         pr.Amount,
		"invoice_id":     pr.InvoiceID,
		"payment_system": pr.PaymentSystem,
		"return_url":     pr.ReturnURL,
		"callback_url":   pr.CallbackURL,
		"lang":           pr.Lang,
		"details":        map[string]string{"invoice_id": pr.InvoiceID},
	}
	if pr.BillingID != "" {
		payload["billing_id"] = pr.BillingID
	}
	body, _ := json.Marshal(payload)

	resp, err := g.doAuthorized(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payment", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		g.log.Error().Int("status", resp.StatusCode).Bytes("body", snippet).Msg("multicard create payment failed")
		return nil, fmt.Errorf("%w: http %d", domain.ErrPaymentRejected, resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode payment response: %v", domain.ErrGatewayProtocol, err)
	}
	data, err := normalizeEnvelope(out)
	if err != nil {
		return nil, err
	}

	res := &adapter.PaymentResponse{UUID: stringField(data, "uuid")}
	// The redirect URL appears under either of two names depending on the
	// provider version.
	if u := stringField(data, "checkout_url"); u != "" {
		res.CheckoutURL = u
	} else {
		res.CheckoutURL = stringField(data, "check_url")
	}
	return res, nil
}

// GetPaymentStatus fetches the provider-side status for a payment reference.
// Used as the reconciliation fallback when the webhook signature is invalid.
func (g *MulticardGateway) GetPaymentStatus(ctx context.Context, reference string) (string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", domain.ErrInvalidReference
	}

	resp, err := g.doAuthorized(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/payment/"+url.PathEscape(reference), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: http %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode status response: %v", domain.ErrGatewayProtocol, err)
	}
	payload := out
	if data, ok := out["data"].(map[string]any); ok {
		payload = data
	}
	return strings.ToLower(strings.TrimSpace(stringField(payload, "status"))), nil
}

// normalizeEnvelope collapses the two observed response shapes (a flat object,
// or {success, data}) into one payload map. An explicit success=false is a
// provider rejection.
func normalizeEnvelope(out map[string]any) (map[string]any, error) {
	success, hasFlag := out["success"].(bool)
	if hasFlag && !success {
		return nil, fmt.Errorf("%w: success=false", domain.ErrPaymentRejected)
	}
	if data, ok := out["data"].(map[string]any); ok && hasFlag {
		return data, nil
	}
	return out, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
