package syncer

import (
	"path/filepath"
	"strings"
)

// NormalizeDestination converts backslashes to forward slashes and trims
// surrounding whitespace and slashes from a destination prefix. It returns
// ErrInvalidDestination when nothing remains.
func NormalizeDestination(destination string) (string, error) {
	trimmed := strings.Trim(toSlash(strings.TrimSpace(destination)), "/")
	if trimmed == "" {
		return "", ErrInvalidDestination
	}
	return trimmed, nil
}

// DestinationKey builds the object key for a file at rel (relative to the
// source root) under destination. Leading and trailing slashes of the
// destination are dropped and every separator becomes a forward slash.
func DestinationKey(destination, rel string) string {
	prefix := strings.Trim(toSlash(strings.TrimSpace(destination)), "/")
	return prefix + "/" + strings.TrimLeft(toSlash(rel), "/")
}

// toSlash turns both host and Windows separators into forward slashes.
func toSlash(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
}
