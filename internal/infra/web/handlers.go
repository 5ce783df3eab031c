package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"guest-access-gate/internal/domain"
	"guest-access-gate/internal/domain/model"
	"guest-access-gate/internal/infra/logging"
)

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// handlePay creates an invoice for the chosen payment system and returns the
// checkout redirect. Gateway failure detail stays in the logs; the caller
// only sees a stable error code.
func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ps := chi.URLParam(r, "ps")

	res, err := s.access.CreateInvoice(ctx, ps)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPaymentSystem) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payment_system"})
			return
		}
		logging.With(ctx, s.log).Error().Err(err).Str("ps", ps).Msg("guest pay failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "payment_failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"checkout_url": res.CheckoutURL,
		"invoice_id":   res.InvoiceID,
	})
}

// handleCallback is the gateway webhook. No internal error, of any kind, may
// produce a non-success response here: a failing acknowledgement would put
// the gateway into a retry storm against a transiently broken dependency.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || raw == nil {
		logging.With(ctx, s.log).Warn().Err(err).Msg("webhook body not a JSON object")
		ack(w)
		return
	}

	payload := model.NewCallbackPayload(raw)
	if payload.InvoiceID != "" {
		ctx = logging.WithInvoiceID(ctx, payload.InvoiceID)
	}
	logging.With(ctx, s.log).Info().Interface("payload", payload.Fields).Msg("gateway callback received")

	outcome, err := s.access.ReconcileWebhook(ctx, payload)
	if err != nil {
		logging.With(ctx, s.log).Error().Err(err).Str("outcome", string(outcome)).Msg("webhook reconciliation error")
	}
	ack(w)
}

func ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleEnter redeems a paid invoice: binds the caller's fingerprint, mints
// the guest session cookie and redirects to the frontend.
func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	invoiceID := strings.TrimSpace(r.URL.Query().Get("externalId"))
	if invoiceID == "" {
		http.Error(w, "externalId required", http.StatusBadRequest)
		return
	}
	ctx = logging.WithInvoiceID(ctx, invoiceID)

	g, err := s.access.Redeem(ctx, invoiceID, requestContext(r))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			http.Error(w, "Not Found", http.StatusNotFound)
		case errors.Is(err, domain.ErrPaymentNotCompleted):
			http.Error(w, "Payment not completed", http.StatusPaymentRequired)
		case errors.Is(err, domain.ErrAlreadyConsumed):
			http.Error(w, "Already used", http.StatusForbidden)
		case errors.Is(err, domain.ErrExpired):
			http.Error(w, "Access expired", http.StatusForbidden)
		default:
			logging.With(ctx, s.log).Error().Err(err).Msg("redeem failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	if _, err := s.sessions.Mint(w, g.Token, g.InvoiceID); err != nil {
		logging.With(ctx, s.log).Error().Err(err).Msg("session mint failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("%s/?guest=1&invoice=%s", s.frontendURL, invoiceID), http.StatusFound)
}

// handleSession is the per-request validation contract consumed by the
// downstream application.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, err := s.sessions.Parse(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"active": false})
		return
	}
	if !s.access.ValidateSession(r.Context(), claims.Token, requestContext(r)) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":     true,
		"invoice_id": claims.InvoiceID,
	})
}

// handleConsume terminally marks the guest session used and clears the cookie.
func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := s.sessions.Parse(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false})
		return
	}
	if err := s.access.ConsumeSession(ctx, claims.Token); err != nil {
		logging.With(ctx, s.log).Error().Err(err).Msg("consume session failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}
	s.sessions.Clear(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
