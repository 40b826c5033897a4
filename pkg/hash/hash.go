package hash

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Sum returns the hex blake2b-256 digest of parts. Parts are separated by a
// unit separator so ("ab","c") and ("a","bc") never collide.
func Sum(parts ...string) string {
	h, _ := blake2b.New256(nil)
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Bytes returns the hex blake2b-256 digest of b.
func Bytes(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NormalizeText collapses whitespace and line endings so that transport
// re-encoding of the same body does not change its hash.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Join(strings.Fields(s), " ")
}
