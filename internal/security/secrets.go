package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// RecommendedSecretLength is the length below which a webhook secret is
	// reported as weak. Shorter secrets still work; the listener only warns.
	RecommendedSecretLength = 32

	// MinEntropy is the minimum Shannon entropy threshold for secrets.
	MinEntropy = 3.5
)

var placeholderSecrets = []string{
	"replace",
	"changeme",
	"topsecret",
	"password",
	"your-webhook-secret",
}

// CheckSecretStrength reports why a webhook secret is weak, or nil if it
// looks random enough. The listener logs the result as a warning; an empty
// secret is rejected separately by configuration validation.
func CheckSecretStrength(secret string) error {
	if len(secret) < RecommendedSecretLength {
		return fmt.Errorf("secret is short (%d characters, recommended at least %d)", len(secret), RecommendedSecretLength)
	}

	secretLower := strings.ToLower(secret)
	for _, placeholder := range placeholderSecrets {
		if strings.Contains(secretLower, placeholder) {
			return fmt.Errorf("secret appears to be a placeholder value")
		}
	}

	if isSequential(secret) {
		return fmt.Errorf("secret consists mostly of sequential characters")
	}

	entropy := calculateEntropy(secret)
	if entropy < MinEntropy {
		return fmt.Errorf("secret has insufficient entropy (%.2f < %.2f)", entropy, MinEntropy)
	}

	return nil
}

// GenerateSecret creates a cryptographically secure random secret.
// Returns a 48-character base64-encoded string.
func GenerateSecret() (string, error) {
	// 36 bytes encode to 48 characters in base64
	bytes := make([]byte, 36)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// calculateEntropy computes the Shannon entropy of a string.
// Returns a value between 0 (completely predictable) and ~8 (maximum entropy for byte strings).
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	for _, c := range s {
		freq[c]++
	}

	// H = -Σ(p(x) * log2(p(x)))
	var entropy float64
	length := float64(len(s))

	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// isSequential checks if a string consists of sequential characters.
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	// More than 70% sequential pairs
	return float64(sequential) > float64(len(s))*0.7
}
