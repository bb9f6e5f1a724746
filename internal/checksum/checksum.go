// Package checksum computes content digests for build outputs.
package checksum

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Sum returns the hex-encoded BLAKE3-256 digest of data.
func Sum(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// String is Sum for text content.
func String(s string) string {
	return Sum([]byte(s))
}
