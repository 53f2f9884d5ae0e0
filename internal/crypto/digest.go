package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// DigestHex returns the SHA-256 digest as lowercase hex.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestWithPrefix returns the SHA-256 digest with the "sha256:" prefix.
func DigestWithPrefix(data []byte) string {
	return "sha256:" + DigestHex(data)
}

// DigestJSON canonicalizes v and returns its prefixed digest.
func DigestJSON(v any) (string, error) {
	canonical, err := CanonicalizeJSON(v)
	if err != nil {
		return "", err
	}
	return DigestWithPrefix(canonical), nil
}
