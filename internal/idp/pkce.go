package idp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// 32 random bytes gives 256 bits of entropy for the code verifier.
	pkceVerifierBytes = 32

	// 32 bytes encodes to 43 base64url characters, satisfying providers that
	// require a minimum state length of 32 characters.
	stateBytes = 32
)

// PKCEChallenge holds the Proof Key for Code Exchange parameters for one
// authorization request. The verifier stays local; only the challenge is
// sent to the identity provider.
type PKCEChallenge struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// GeneratePKCE generates a new PKCE code verifier and its S256 challenge.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes)
	hash := sha256.Sum256([]byte(verifier))

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(hash[:]),
		CodeChallengeMethod: "S256",
	}, nil
}

// GenerateState generates a random state parameter linking an authorization
// response back to the request that produced it.
func GenerateState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
