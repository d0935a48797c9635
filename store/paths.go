package store

import (
	"path/filepath"
	"strings"
)

// AnonymousSegment partitions storage for unauthenticated access.
const AnonymousSegment = "anonymous"

// SanitizeSegment maps an arbitrary user identifier onto a filesystem-safe
// segment key. Empty input falls back to the anonymous segment.
func SanitizeSegment(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AnonymousSegment
	}

	var b strings.Builder
	b.Grow(len(userID))
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return AnonymousSegment
	}
	return b.String()
}

// sanitizeFileName strips characters that are unsafe in file names on the
// common filesystems. Runs of stripped characters collapse to one dash.
func sanitizeFileName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastDash := false
	for _, r := range name {
		switch {
		case r < 0x20, strings.ContainsRune(`/\:*?"<>|`, r):
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		default:
			b.WriteRune(r)
			lastDash = false
		}
	}
	return strings.Trim(b.String(), " -")
}

// resolvePath resolves an entry's recorded path against the segment root.
// Historic index files recorded sometimes bare names, sometimes full paths;
// absolute paths are honored as-is.
func (s *Store) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.dir, p)
}
