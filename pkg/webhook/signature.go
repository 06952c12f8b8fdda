package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// signaturePrefix identifies the digest algorithm in signature headers.
const signaturePrefix = "sha256="

// Sign computes the HMAC-SHA256 signature of payload under secret, in
// the "sha256=<hex>" form carried by the X-Shepherd-Signature header.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload under secret, using
// a constant-time comparison.
func Verify(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
