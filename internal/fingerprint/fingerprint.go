// Package fingerprint computes the short content hash used as the dedup key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// TextLimit bounds how much of the post text participates in the hash.
// Posts differing only beyond this boundary collide on purpose.
const TextLimit = 200

// HashLength is the number of hex characters kept from the digest. Collision
// risk at this length is accepted given the bounded working set of one run.
const HashLength = 16

// Sum returns the deterministic fingerprint of a post's stable fields.
func Sum(url, author, text string) string {
	if len(text) > TextLimit {
		text = text[:TextLimit]
	}
	var b strings.Builder
	b.WriteString(url)
	b.WriteByte('|')
	b.WriteString(author)
	b.WriteByte('|')
	b.WriteString(text)

	digest := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(digest[:])[:HashLength]
}
