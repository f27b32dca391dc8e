package ingest

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the content-addressed identity of a raw file: the
// hex-encoded SHA-256 of its bytes. Path and filename never contribute, so
// renamed copies of the same download deduplicate cleanly.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
