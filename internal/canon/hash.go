package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed hashing. The version suffix
// enables algorithm migration without ambiguity between old and new
// hashes.
const (
	// DomainSnapshot covers persisted history snapshot states.
	DomainSnapshot = "keel/snapshot/v1"
	// DomainTrace covers harness trace snapshots.
	DomainTrace = "keel/trace/v1"
)

// HashWithDomain computes SHA-256 with domain separation:
// SHA256(domain || 0x00 || data). The null separator prevents
// domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashJSON canonicalizes raw JSON and hashes it under domain. Two JSON
// documents that differ only in key order, whitespace or string
// normalization hash identically.
func HashJSON(domain string, raw []byte) (string, error) {
	canonical, err := CanonicalizeJSON(raw)
	if err != nil {
		return "", err
	}
	return HashWithDomain(domain, canonical), nil
}
