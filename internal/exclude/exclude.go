// Package exclude decides which entries under the source root are left out of
// size calculations and uploads.
package exclude

import (
	"path/filepath"
	"strings"
)

const (
	hiddenMarker = "."
	// ReservedDir is the top-level directory holding per-user state.
	ReservedDir = "user"
)

// Policy evaluates exclusion rules for paths under a single source root.
// A Policy is immutable and safe for concurrent use.
type Policy struct {
	root      string
	fragments []string
}

// NewPolicy resolves each relative fragment against root; absolute fragments
// are used as given. Blank fragments are ignored.
func NewPolicy(root string, fragments []string) Policy {
	root = filepath.Clean(root)
	resolved := make([]string, 0, len(fragments))
	for _, frag := range fragments {
		frag = strings.TrimSpace(frag)
		if frag == "" {
			continue
		}
		if !filepath.IsAbs(frag) {
			frag = filepath.Join(root, frag)
		}
		resolved = append(resolved, filepath.Clean(frag))
	}
	return Policy{root: root, fragments: resolved}
}

// ParseList splits a whitespace-separated exclude list.
func ParseList(list string) []string {
	return strings.Fields(list)
}

// IsExcluded reports whether path should be skipped given the source root and
// a whitespace-separated list of fragments.
func IsExcluded(path, root, list string) bool {
	return NewPolicy(root, ParseList(list)).Excluded(path)
}

// Root returns the cleaned source root.
func (p Policy) Root() string {
	return p.root
}

// Fragments returns the resolved absolute exclusion paths.
func (p Policy) Fragments() []string {
	return append([]string(nil), p.fragments...)
}

// Excluded reports whether path is excluded. Paths outside the root are
// always excluded; the root itself never is. A directory that is excluded
// excludes every path below it.
func (p Policy) Excluded(path string) bool {
	current := filepath.Clean(path)
	rel, err := filepath.Rel(p.root, current)
	if err != nil {
		return true
	}
	if rel == "." {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}

	first := rel
	if idx := strings.IndexRune(rel, filepath.Separator); idx >= 0 {
		first = rel[:idx]
	}
	if strings.HasPrefix(first, hiddenMarker) {
		return true
	}
	if first == ReservedDir {
		return true
	}

	for _, frag := range p.fragments {
		if current == frag || strings.HasPrefix(current, frag+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
