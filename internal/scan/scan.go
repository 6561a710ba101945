// Package scan walks the source tree, pruning excluded directories, and
// reports which files take part in an upload.
package scan

import (
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Excluder decides whether a path is left out of the walk.
type Excluder interface {
	Excluded(path string) bool
}

// File is a single regular file selected for transfer.
type File struct {
	// Path is the absolute path on the scanned filesystem.
	Path string
	// Rel is Path relative to the source root, using host separators.
	Rel string
	// Size is the size reported when the file was visited.
	Size int64
}

// Stats aggregates the files a walk would transfer.
type Stats struct {
	Bytes int64 `json:"total_bytes"`
	Files int64 `json:"total_files"`
}

// WalkFunc receives each selected file. Returning iofs.SkipAll stops the walk
// without error; any other error stops the walk and is returned by Walk.
type WalkFunc func(file File) error

// Walk visits every non-excluded regular file under root depth-first. Within a
// directory, files are delivered before descending into subdirectories and
// entries are ordered by name. Excluded directories are pruned. Unreadable
// directories and files whose size cannot be read are skipped. Symlinks to
// directories are not followed. A missing root visits nothing.
func Walk(fsys afero.Fs, root string, policy Excluder, fn WalkFunc) error {
	root = filepath.Clean(root)
	info, err := fsys.Stat(root)
	if err != nil || !info.IsDir() {
		return nil
	}
	err = walkDir(fsys, root, root, policy, fn)
	if errors.Is(err, iofs.SkipAll) {
		return nil
	}
	return err
}

func walkDir(fsys afero.Fs, root, dir string, policy Excluder, fn WalkFunc) error {
	if policy != nil && policy.Excluded(dir) {
		return nil
	}
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var subdirs []string
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if policy != nil && policy.Excluded(full) {
			continue
		}
		if entry.IsDir() {
			subdirs = append(subdirs, full)
			continue
		}
		size, ok := fileSize(fsys, full, entry)
		if !ok {
			continue
		}
		rel, err := filepath.Rel(root, full)
		if err != nil {
			continue
		}
		if err := fn(File{Path: full, Rel: rel, Size: size}); err != nil {
			return err
		}
	}

	for _, sub := range subdirs {
		if err := walkDir(fsys, root, sub, policy, fn); err != nil {
			return err
		}
	}
	return nil
}

// fileSize resolves the size of a non-directory entry, following symlinks.
// It reports false for entries that should not be treated as files.
func fileSize(fsys afero.Fs, path string, entry os.FileInfo) (int64, bool) {
	if entry.Mode()&os.ModeSymlink == 0 {
		if !entry.Mode().IsRegular() {
			return 0, false
		}
		// Re-stat so files removed or made unreadable since the listing are skipped.
		info, err := fsys.Stat(path)
		if err != nil {
			return 0, false
		}
		return info.Size(), true
	}
	info, err := fsys.Stat(path)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

// Scan returns the total size and count of the files Walk would visit. It is
// safe to call repeatedly; results are stable on an unchanged tree.
func Scan(fsys afero.Fs, root string, policy Excluder) Stats {
	var stats Stats
	_ = Walk(fsys, root, policy, func(f File) error {
		stats.Bytes += f.Size
		stats.Files++
		return nil
	})
	return stats
}
