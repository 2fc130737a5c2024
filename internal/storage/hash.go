package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

// CoverETag returns a strong HTTP entity tag for cover bytes
func CoverETag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
