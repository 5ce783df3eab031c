package security

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionCookieName = "guest_session"

var ErrNoSession = errors.New("no valid guest session")

// GuestClaims is the JWT body of a guest session cookie. Token is the grant's
// one-time capability handle; validity is still re-checked against the store
// and the bound fingerprint on every request.
type GuestClaims struct {
	Token     string `json:"token"`
	InvoiceID string `json:"invoice_id"`
	jwt.RegisteredClaims
}

// SessionManager mints and parses the HS256-signed guest session cookie.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

func NewSessionManager(secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{secret: []byte(secret), ttl: ttl, secure: secure}
}

// Mint signs a session for the given grant and sets it as a cookie.
func (m *SessionManager) Mint(w http.ResponseWriter, token, invoiceID string) (string, error) {
	now := time.Now()
	claims := GuestClaims{
		Token:     token,
		InvoiceID: invoiceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "guest_" + invoiceID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  now.Add(m.ttl),
	})
	return signed, nil
}

// Parse extracts and verifies the session cookie from a request.
func (m *SessionManager) Parse(r *http.Request) (*GuestClaims, error) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}

	claims := &GuestClaims{}
	tok, err := jwt.ParseWithClaims(c.Value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid || claims.Token == "" {
		return nil, ErrNoSession
	}
	return claims, nil
}

// Clear expires the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Secure:   m.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
