// Package server canonicalizes user-supplied channel identifiers into
// registry keys.
package server

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeChannelID maps arbitrary channel text to its canonical key:
// diacritics are stripped via NFD decomposition, letters are lowercased, and
// everything outside [a-z0-9] is dropped. An empty result means the input is
// not a usable channel identifier.
//
// The function is idempotent: normalizing an already-canonical key returns it
// unchanged.
func NormalizeChannelID(id string) string {
	// Transformers are stateful, so build the chain per call rather than
	// sharing one across connections.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	decomposed, _, err := transform.String(stripMarks, id)
	if err != nil {
		decomposed = id
	}

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range strings.ToLower(decomposed) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
