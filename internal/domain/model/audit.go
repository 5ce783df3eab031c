package model

import "time"

// ReconciliationAudit captures a webhook whose signature did not verify and
// whose fallback status poll was inconclusive or negative. These rows exist
// purely for manual audit; nothing in the payment flow reads them back.
type ReconciliationAudit struct {
	ID         string // ULID, sortable by arrival time
	InvoiceID  string
	GatewayRef string
	GotSign    string
	Candidates map[string]string // digest candidates computed per scheme
	Payload    map[string]string // raw scalar fields of the webhook
	Outcome    string
	CreatedAt  time.Time
}
