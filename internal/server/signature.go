package server

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

const (
	// SignatureHeader carries "<algorithm>=<hex digest>" of the raw body.
	SignatureHeader = "X-Hub-Signature-256"

	SignaturePrefix = "sha256="
)

// signatureAlgorithms is the allow-list of hash names accepted in the
// signature header.
var signatureAlgorithms = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// VerifySignature verifies the HMAC signature of a GitHub webhook payload.
// The header names the hash algorithm; only sha1, sha256 and sha512 are
// accepted.
func VerifySignature(payload []byte, signature, secret string) bool {
	// Signature must be present
	if signature == "" {
		return false
	}

	// Signature format: "<algorithm>=<hex_digest>"
	algorithm, receivedMAC, ok := strings.Cut(signature, "=")
	if !ok {
		return false
	}

	newHash, ok := signatureAlgorithms[algorithm]
	if !ok {
		return false
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	expectedMAC := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison to prevent timing attacks
	return hmac.Equal([]byte(expectedMAC), []byte(receivedMAC))
}
