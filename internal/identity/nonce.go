package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NonceLength is the length of nonces issued for provider sign-in.
const NonceLength = 32

const nonceCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVXYZabcdefghijklmnopqrstuvwxyz-._"

// NewNonce returns a random nonce of length n drawn from a URL-safe
// charset. Bytes that would bias the distribution are rejected.
func NewNonce(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("nonce length must be positive, got %d", n)
	}

	limit := 256 - 256%len(nonceCharset)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate nonce: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, nonceCharset[int(b)%len(nonceCharset)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// HashNonce returns the lowercase hex SHA-256 of a raw nonce. The hash is
// sent with the provider request; the raw value is kept for the exchange.
func HashNonce(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
