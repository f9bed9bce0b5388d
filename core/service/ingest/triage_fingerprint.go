// Package ingest implements content normalization, fingerprinting, and the
// idempotency gate in front of the triage pipeline.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeText canonicalizes message text for duplicate detection:
// case-fold, collapse whitespace runs to single spaces, strip trailing
// punctuation noise. Content retransmitted through a different channel with
// superficial formatting changes still normalizes to the same string.
func NormalizeText(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}

	return strings.TrimRightFunc(b.String(), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// Fingerprint computes the content fingerprint over normalized subject and
// body. Identical normalized content always yields an identical fingerprint.
func Fingerprint(subject, body string) string {
	canonical := NormalizeText(subject) + "\n" + NormalizeText(body)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
