package domain

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
)

// MaxSourceKeyLen bounds a key so that derived artifact names fit in one
// file name component on common filesystems.
const MaxSourceKeyLen = 200

// SourceKey namespaces the cached chunks and indexes of one corpus.
type SourceKey string

func (k SourceKey) String() string { return string(k) }

// NormalizeSourceKey derives the cache namespace from a source identifier.
//
// A leading URI scheme is dropped and path separators ('/' and '\') become
// '_'. Every other byte outside [A-Za-z0-9._-] is written as %XX, so distinct
// identifiers keep distinct keys. The only intended collisions are scheme and
// separator variants: "https://acme.io/about", "http://acme.io/about" and
// "acme.io_about" share one corpus.
//
// Keys longer than MaxSourceKeyLen are truncated and suffixed with '~' and
// the FNV-64a hash of the full key.
func NormalizeSourceKey(sourceID string) (SourceKey, error) {
	s := stripScheme(strings.TrimSpace(sourceID))

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '.', c == '-', c == '_':
			b.WriteByte(c)
		case c == '/', c == '\\':
			b.WriteByte('_')
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	key := b.String()
	if strings.Trim(key, "_") == "" {
		return "", WrapError(ErrInvalidInput, "normalize source key", errors.New("source identifier is empty"))
	}
	return SourceKey(capKey(key)), nil
}

func capKey(key string) string {
	if len(key) <= MaxSourceKeyLen {
		return key
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	suffix := fmt.Sprintf("~%016x", h.Sum64())
	return key[:MaxSourceKeyLen-len(suffix)] + suffix
}

func stripScheme(s string) string {
	idx := strings.Index(s, "://")
	if idx <= 0 {
		return s
	}
	for i, r := range s[:idx] {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if i == 0 && !isAlpha {
			return s
		}
		if !isAlpha && !(r >= '0' && r <= '9') && r != '+' && r != '.' && r != '-' {
			return s
		}
	}
	return s[idx+3:]
}
