// Package sanitize normalizes host-supplied session identifiers before
// they are used in filenames under the state and archive directories.
//
// Session IDs are opaque strings owned by the host; nothing stops a
// confused or hostile host from sending "../../etc/passwd". Sanitized
// identifiers match ^[a-z0-9_]{1,48}$ and therefore cannot carry path
// separators or parent-directory sequences.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxLength is the maximum length of a sanitized identifier.
	// Keeps archive filenames well under common filesystem limits
	// once the timestamp prefix and collision suffix are added.
	MaxLength = 48

	// hashSuffixLength is "_" plus 8 hex chars appended when an
	// identifier is truncated, preserving uniqueness of long IDs.
	hashSuffixLength = 9
)

// SessionID sanitizes a host session identifier for filesystem use.
//
// Rules:
//   - lowercase
//   - every character outside [a-z0-9_] becomes an underscore
//   - runs of underscores collapse, leading/trailing trimmed
//   - identifiers over MaxLength are truncated with a hash suffix
//
// ok is false when nothing of the identifier survives (empty input or
// input made entirely of invalid characters). Callers for whom the
// identifier is load-bearing, like the archiver, must treat that as a
// hard error rather than invent a name.
func SessionID(raw string) (id string, ok bool) {
	if raw == "" {
		return "", false
	}

	raw = strings.ToLower(raw)

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	s := b.String()
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")

	if s == "" {
		return "", false
	}
	if len(s) > MaxLength {
		s = truncateWithHash(s)
	}
	return s, true
}

// truncateWithHash shortens s to MaxLength, replacing the tail with a
// hash of the full identifier so distinct long IDs stay distinct.
func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(sum[:])[:hashSuffixLength-1]

	head := strings.TrimRight(s[:MaxLength-hashSuffixLength], "_")
	return head + suffix
}
