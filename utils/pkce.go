package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// PKCEPair is an S256 verifier and its challenge.
type PKCEPair struct {
	CodeVerifier  string
	CodeChallenge string
}

func GenerateCodeVerifier() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

func GenerateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func NewPKCEPair() (PKCEPair, error) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return PKCEPair{}, err
	}
	return PKCEPair{CodeVerifier: verifier, CodeChallenge: GenerateCodeChallenge(verifier)}, nil
}

// VerifyCodeChallenge reports whether verifier hashes to challenge.
func VerifyCodeChallenge(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(GenerateCodeChallenge(verifier)), []byte(challenge)) == 1
}
