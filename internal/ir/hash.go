package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// The version suffix allows a future algorithm or payload migration without
// colliding with hashes already committed to the ledger.
const (
	DomainConvergence = "convergence/result/v1"
	DomainClaim       = "convergence/claim/v1"
	DomainReport      = "convergence/report/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// ContentHash is a 32-byte SHA-256 digest. It is the bytes32 committed to
// the ledger; String() gives the hex form stored in the database.
type ContentHash [32]byte

// String returns the lowercase hex encoding without a 0x prefix.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h was never computed.
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// ParseContentHash decodes a 64-character hex hash, with or without 0x.
func ParseContentHash(s string) (ContentHash, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	var h ContentHash
	if len(s) != hex.EncodedLen(len(h)) {
		return h, fmt.Errorf("content hash: want %d hex chars, got %d", hex.EncodedLen(len(h)), len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("content hash: %w", err)
	}
	return h, nil
}

// HashPayload canonicalizes payload and hashes it under domain.
// Returns the canonical bytes as well so callers can log them on failure.
func HashPayload(domain string, payload IRObject) (ContentHash, []byte, error) {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return ContentHash{}, nil, fmt.Errorf("hash payload %s: %w", domain, err)
	}
	return ContentHash(hashWithDomain(domain, canonical)), canonical, nil
}

// MustHashPayload is like HashPayload but panics on error.
// Use only in tests or when the payload is known to be valid.
func MustHashPayload(domain string, payload IRObject) ContentHash {
	h, _, err := HashPayload(domain, payload)
	if err != nil {
		panic(err)
	}
	return h
}

// HashText hashes free text (e.g. a report body) under DomainReport.
// The text is hashed in its canonical JSON string form (NFC, quoted).
func HashText(text string) ContentHash {
	b, err := marshalCanonicalString(text)
	if err != nil {
		// encoding a Go string cannot fail
		panic(err)
	}
	return ContentHash(hashWithDomain(DomainReport, b))
}

// MarshalText encodes h as hex so JSON output is readable.
func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex hash.
func (h *ContentHash) UnmarshalText(b []byte) error {
	parsed, err := ParseContentHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
