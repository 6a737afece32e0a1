// Package signature verifies HMAC-SHA256 signatures on job triggers.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"

	"github.com/vhvplatform/go-wellness-notifier/internal/shared/logger"
)

// Header carries the hex-encoded HMAC-SHA256 of the raw request body
const Header = "x-webhook-signature"

// maxBodySize bounds how much of a trigger body is read for verification
const maxBodySize = 1 << 20

// Verifier checks trigger signatures against a shared secret
type Verifier struct {
	secret []byte
	log    *logger.Logger
	warn   sync.Once
}

// NewVerifier creates a verifier. An empty secret accepts every request.
func NewVerifier(secret string, log *logger.Logger) *Verifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Verifier{secret: []byte(secret), log: log}
}

// Enabled reports whether a secret is configured
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Sign returns the hex signature of body
func (v *Verifier) Sign(body []byte) string {
	return Sign(v.secret, body)
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC of body. The comparison is
// constant time over the exact header text.
func (v *Verifier) Verify(body []byte, signature string) (valid bool) {
	if !v.Enabled() {
		v.warn.Do(func() {
			v.log.Warn("WEBHOOK_SECRET not configured, accepting unsigned job triggers")
		})
		return true
	}
	if signature == "" {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			valid = false
		}
	}()

	expected := v.Sign(body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyRequest reads the request body, verifies it against the signature
// header and restores the body for later binding. A body that cannot be read
// is invalid.
func (v *Verifier) VerifyRequest(r *http.Request) ([]byte, bool) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		r.Body.Close()
		if err != nil {
			r.Body = io.NopCloser(bytes.NewReader(nil))
			return nil, false
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, v.Verify(body, r.Header.Get(Header))
}
