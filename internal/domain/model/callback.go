package model

import (
	"strconv"
	"strings"
)

// CallbackPayload is a defensively decoded gateway webhook body. The gateway
// sends an arbitrary JSON object; known fields are promoted, and every scalar
// field is additionally kept (stringified, untrimmed) in Fields because the
// sorted key=value signing scheme covers all of them. Non-scalar values and
// unknown shapes are skipped, never an error.
type CallbackPayload struct {
	InvoiceID     string
	UUID          string // provider payment reference, used for fallback polling
	BillingID     string
	PaymentSystem string
	Amount        int64
	Sign          string // received signature, lowercased

	Fields map[string]string
}

// NewCallbackPayload builds a payload from a decoded JSON object.
func NewCallbackPayload(raw map[string]any) CallbackPayload {
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := stringifyScalar(v)
		if !ok {
			continue
		}
		fields[k] = s
	}

	p := CallbackPayload{
		InvoiceID:     strings.TrimSpace(fields["invoice_id"]),
		UUID:          strings.TrimSpace(fields["uuid"]),
		BillingID:     strings.TrimSpace(fields["billing_id"]),
		PaymentSystem: strings.TrimSpace(fields["ps"]),
		Sign:          strings.ToLower(strings.TrimSpace(fields["sign"])),
		Fields:        fields,
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(fields["amount"]), 10, 64); err == nil {
		p.Amount = n
	}
	return p
}

// stringifyScalar renders a JSON scalar the way the gateway signs it.
// JSON numbers arrive as float64; integral values must not grow a ".0".
func stringifyScalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case nil:
		return "", false
	default:
		return "", false
	}
}
