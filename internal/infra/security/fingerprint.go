package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"guest-access-gate/internal/domain/model"
	"guest-access-gate/internal/domain/ports/adapter"
)

var _ adapter.FingerprintBinder = (*FingerprintBinder)(nil)

// FingerprintBinder derives a stable hash from the client's user agent and
// effective network address. The first X-Forwarded-For entry wins over the
// direct peer address; both sides are empty-string-safe. The hash is only
// ever compared for equality, never reversed.
type FingerprintBinder struct{}

func NewFingerprintBinder() *FingerprintBinder { return &FingerprintBinder{} }

func (FingerprintBinder) Fingerprint(rc model.RequestContext) string {
	ua := strings.TrimSpace(rc.UserAgent)

	ip := ""
	if rc.ForwardedFor != "" {
		ip = strings.TrimSpace(strings.SplitN(rc.ForwardedFor, ",", 2)[0])
	}
	if ip == "" {
		ip = strings.TrimSpace(rc.RemoteAddr)
	}

	sum := sha256.Sum256([]byte(ua + "|" + ip))
	return hex.EncodeToString(sum[:])
}
