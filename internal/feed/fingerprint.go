package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Fingerprint computes a SHA-256 hash for the given snapshot bytes.
func Fingerprint(body []byte) (string, error) {
	if len(body) == 0 {
		return "", errors.New("snapshot body is empty")
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}
