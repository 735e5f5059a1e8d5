// ABOUTME: Webhook authenticity checks: HMAC-SHA256 signature and subscribe handshake
// ABOUTME: Both fail closed; comparisons are constant time

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader is the request header carrying the payload signature.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// Verification errors
var (
	ErrMissingSignature   = errors.New("missing signature")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrHandshakeRejected  = errors.New("handshake rejected")
)

// Sign returns the header value for payload under secret.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against an HMAC-SHA256 of the exact payload
// bytes. An empty secret never verifies.
func VerifySignature(secret, payload []byte, header string) error {
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrMalformedSignature
	}
	got := strings.TrimPrefix(header, signaturePrefix)
	if len(got) != hex.EncodedLen(sha256.Size) {
		return ErrMalformedSignature
	}
	if len(secret) == 0 {
		return ErrSignatureMismatch
	}

	// Compared as lowercase hex text so that a case flip is still a mismatch.
	want := Sign(secret, payload)[len(signaturePrefix):]
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Handshake answers the platform's subscription check. The challenge is
// returned unchanged only for mode "subscribe" with a matching token.
func Handshake(mode, token, challenge, verifyToken string) (string, error) {
	if mode != "subscribe" || verifyToken == "" {
		return "", ErrHandshakeRejected
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
		return "", ErrHandshakeRejected
	}
	return challenge, nil
}
