package payment

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"

	"guest-access-gate/internal/domain/model"
	"guest-access-gate/internal/domain/ports/adapter"
)

// orderedSignFields is the gateway-documented value sequence for the
// concatenation scheme. Absent fields are coerced to the empty string;
// the order must never change.
var orderedSignFields = []string{
	"store_id",
	"amount",
	"invoice_id",
	"invoice_uuid",
	"billing_id",
	"payment_time",
	"phone",
	"card_pan",
	"card_token",
	"ps",
	"uuid",
	"receipt_url",
}

var _ adapter.WebhookVerifier = (*SignatureVerifier)(nil)

// SignatureVerifier checks webhook signatures under the two signing
// conventions the gateway has been observed to use. The ordered concatenation
// scheme is the primary, audited path; the sorted key=value scheme covers
// deployments where the sender follows the callback contract instead. A match
// under either is authoritative.
type SignatureVerifier struct {
	secret string
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: secret}
}

func (v *SignatureVerifier) Verify(p model.CallbackPayload) adapter.SignatureResult {
	res := adapter.SignatureResult{Candidates: make(map[string]string, 3)}
	if p.Sign == "" || v.secret == "" {
		return res
	}

	// Scheme 1: fixed-order value concatenation, MD5 or SHA-1.
	var b strings.Builder
	for _, k := range orderedSignFields {
		b.WriteString(p.Fields[k])
	}
	b.WriteString(v.secret)
	base := []byte(b.String())

	md5Sum := md5.Sum(base)
	sha1Sum := sha1.Sum(base)
	orderedMD5 := hex.EncodeToString(md5Sum[:])
	orderedSHA1 := hex.EncodeToString(sha1Sum[:])
	res.Candidates["ordered_md5"] = orderedMD5
	res.Candidates["ordered_sha1"] = orderedSHA1

	switch p.Sign {
	case orderedMD5:
		res.Valid, res.Scheme = true, "ordered_md5"
		return res
	case orderedSHA1:
		res.Valid, res.Scheme = true, "ordered_sha1"
		return res
	}

	// Scheme 2: sorted key=value pairs, blanks dropped, MD5 only.
	keys := make([]string, 0, len(p.Fields))
	trimmed := make(map[string]string, len(p.Fields))
	for k, raw := range p.Fields {
		if k == "sign" {
			continue
		}
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		keys = append(keys, k)
		trimmed[k] = val
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+trimmed[k])
	}
	sortedSum := md5.Sum([]byte(strings.Join(parts, "&") + v.secret))
	sortedMD5 := hex.EncodeToString(sortedSum[:])
	res.Candidates["sorted_md5"] = sortedMD5

	if p.Sign == sortedMD5 {
		res.Valid, res.Scheme = true, "sorted_md5"
	}
	return res
}
