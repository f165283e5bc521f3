package session

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const fingerprintInfo = "rolodex-identity-fingerprint"

// Fingerprint derives a short, stable display string from an identity key.
// Two keys compare equal exactly when their fingerprints do, so callers can
// log and compare fingerprints without ever handling raw key material.
func Fingerprint(identityKey []byte) (string, error) {
	if len(identityKey) == 0 {
		return "", nil
	}
	reader := hkdf.New(sha256.New, identityKey, nil, []byte(fingerprintInfo))
	digest := make([]byte, 10)
	if _, err := io.ReadFull(reader, digest); err != nil {
		return "", fmt.Errorf("derive fingerprint: %w", err)
	}
	return base32.StdEncoding.EncodeToString(digest), nil
}
