package scan

import (
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Entry is a file listed in a Report.
type Entry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Report explains which parts of the source tree a sync would pick up.
type Report struct {
	SourceFolder  string   `json:"source_folder"`
	SourceExists  bool     `json:"source_exists"`
	FoundDirs     []string `json:"found_dirs"`
	ExcludedDirs  []string `json:"excluded_dirs"`
	FoundFiles    []Entry  `json:"found_files"`
	ExcludedFiles []Entry  `json:"excluded_files"`
	TotalSize     int64    `json:"total_size"`
	FileCount     int64    `json:"file_count"`
}

// Inspect walks root like Walk but also records what was excluded. Excluded
// directories are listed once and their contents are not visited.
func Inspect(fsys afero.Fs, root string, policy Excluder) Report {
	root = filepath.Clean(root)
	report := Report{
		SourceFolder:  root,
		FoundDirs:     []string{},
		ExcludedDirs:  []string{},
		FoundFiles:    []Entry{},
		ExcludedFiles: []Entry{},
	}
	info, err := fsys.Stat(root)
	if err != nil || !info.IsDir() {
		return report
	}
	report.SourceExists = true
	inspectDir(fsys, root, root, policy, &report)
	return report
}

func inspectDir(fsys afero.Fs, root, dir string, policy Excluder, report *Report) {
	rel := relOrSelf(root, dir)
	if policy != nil && policy.Excluded(dir) {
		report.ExcludedDirs = append(report.ExcludedDirs, rel)
		return
	}
	report.FoundDirs = append(report.FoundDirs, rel)

	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var subdirs []string
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			subdirs = append(subdirs, full)
			continue
		}
		size, ok := fileSize(fsys, full, entry)
		if !ok {
			size = 0
		}
		item := Entry{Path: relOrSelf(root, full), Size: size}
		if (policy != nil && policy.Excluded(full)) || !ok {
			report.ExcludedFiles = append(report.ExcludedFiles, item)
			continue
		}
		report.FoundFiles = append(report.FoundFiles, item)
		report.TotalSize += size
		report.FileCount++
	}
	for _, sub := range subdirs {
		inspectDir(fsys, root, sub, policy, report)
	}
}

func relOrSelf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
