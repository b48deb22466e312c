// Package checksum computes and verifies content hashes carried in the
// sha_hash delivery header.
package checksum

import (
	"crypto/sha1" // #nosec G505 - sha1 is what hoover producers put in sha_hash
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names a supported hash function.
type Algorithm string

// Supported algorithms. The choice must match whatever the producer used to
// fill the sha_hash header.
const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// Default is the algorithm hoover producers emit.
const Default = SHA1

// Verifier hashes buffered content and compares it with an expected digest.
type Verifier struct {
	algorithm Algorithm
	newHash   func() hash.Hash
}

// New returns a verifier for the named algorithm. An empty name selects
// Default.
func New(name string) (*Verifier, error) {
	algorithm := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if algorithm == "" {
		algorithm = Default
	}

	var newHash func() hash.Hash
	switch algorithm {
	case SHA1:
		newHash = sha1.New
	case SHA256:
		newHash = sha256.New
	case BLAKE3:
		newHash = func() hash.Hash { return blake3.New() }
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", name)
	}

	return &Verifier{algorithm: algorithm, newHash: newHash}, nil
}

// Algorithm returns the configured algorithm.
func (v *Verifier) Algorithm() Algorithm {
	return v.algorithm
}

// Sum returns the lowercase hex digest of content.
func (v *Verifier) Sum(content []byte) string {
	h := v.newHash()
	_, _ = h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether content hashes to expected. The comparison is
// case-sensitive.
func (v *Verifier) Verify(content []byte, expected string) bool {
	return v.Sum(content) == expected
}
