package websub

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // sha1 is part of the X-Hub-Signature format
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

const SignatureHeader = "X-Hub-Signature"

var ErrInvalidSignature = errors.New("invalid delivery signature")

// VerifySignature checks an X-Hub-Signature value ("sha1=<hex>" or
// "sha256=<hex>") against the HMAC of body keyed by secret.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is empty", ErrInvalidSignature)
	}
	if signature == "" {
		return fmt.Errorf("%w: signature is empty", ErrInvalidSignature)
	}

	method, hexSignature, ok := strings.Cut(strings.TrimSpace(signature), "=")
	if !ok {
		return fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}

	var newHash func() hash.Hash

	switch strings.ToLower(method) {
	case "sha1":
		newHash = sha1.New
	case "sha256":
		newHash = sha256.New
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidSignature, method)
	}

	signatureBytes, err := hex.DecodeString(hexSignature)
	if err != nil {
		return fmt.Errorf("%w: decode hex: %w", ErrInvalidSignature, err)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)

	if subtle.ConstantTimeCompare(mac.Sum(nil), signatureBytes) != 1 {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	return nil
}

// Sign returns the X-Hub-Signature value hubs send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
