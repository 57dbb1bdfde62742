package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCEChallenge is a one-shot verifier/challenge pair for a device-code
// attempt. The verifier is never persisted or logged.
type PKCEChallenge struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE produces a fresh PKCE pair: a 32-byte CSPRNG verifier,
// base64url-encoded without padding, and its S256 challenge (the unpadded
// base64url SHA-256 digest of the verifier's ASCII bytes).
func GeneratePKCE() (*PKCEChallenge, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating PKCE verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	digest := sha256.Sum256([]byte(verifier))
	return &PKCEChallenge{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(digest[:]),
	}, nil
}
