// Package util provides content hashing helpers.
package util

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// ContentHash is the hex sha256 of content. Stored bodies carry it to detect corruption and the
// preview cache is keyed by it.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func ContentHashString(content string) string {
	h := sha256.New()
	io.WriteString(h, content)
	return hex.EncodeToString(h.Sum(nil))
}
