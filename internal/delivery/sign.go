// ABOUTME: HMAC signing of callback payloads
// ABOUTME: Signature is hex HMAC-SHA256 over the exact body bytes sent

package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureAlg is the value of the x-router-signature-alg header.
const SignatureAlg = "hmac-sha256"

// Sign returns the lowercase hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
