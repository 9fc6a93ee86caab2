package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests. The version suffix leaves room for a
// future change of the canonical form.
const (
	DomainDocument = "denorm/document/v1"
	DomainRegistry = "denorm/registry/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The null byte keeps
// the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentDigest returns the content digest of a document's canonical JSON.
// Two runs over identical input with identical id allocation produce
// identical digests.
func DocumentDigest(d Document) (string, error) {
	canonical, err := CanonicalJSON(d)
	if err != nil {
		return "", fmt.Errorf("DocumentDigest: %s %d: %w", d.Collection(), d.SourceID(), err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// Digest hashes an arbitrary JSON-marshalable value under domain.
func Digest(domain string, v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("Digest: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}
