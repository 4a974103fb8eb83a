// Package fs discovers the regular files that make up a data directory
// snapshot, honoring directory and file exclusions.
package fs

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

// Entry is one regular file discovered under a walk root.
type Entry struct {
	AbsPath string
	RelPath string // slash-separated, relative to the root
	Info    fs.FileInfo
}

// Walker discovers regular files under a root directory. Symlinks, devices
// and other special files are skipped; excluded directories are not
// descended into.
type Walker struct {
	excludeDirs  map[string]bool // absolute paths of subtrees to skip
	excludeFiles map[string]bool // absolute paths of single files to skip
	matcher      *ExcludeMatcher
}

// NewWalker creates a Walker. excludeDirs subtrees and excludeFiles are
// skipped entirely; patterns are matched against paths relative to the
// walk root (see ExcludeMatcher).
func NewWalker(excludeDirs, excludeFiles []string, patterns []string) *Walker {
	w := &Walker{
		excludeDirs:  make(map[string]bool, len(excludeDirs)),
		excludeFiles: make(map[string]bool, len(excludeFiles)),
		matcher:      NewExcludeMatcher(patterns),
	}
	for _, d := range excludeDirs {
		if abs, err := filepath.Abs(d); err == nil {
			w.excludeDirs[abs] = true
		}
	}
	for _, f := range excludeFiles {
		if abs, err := filepath.Abs(f); err == nil {
			w.excludeFiles[abs] = true
		}
	}
	return w
}

// Collect walks root and returns its regular files in lexical order.
func (w *Walker) Collect(root string) ([]Entry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving walk root: %w", err)
	}

	var entries []Entry
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if w.excludeDirs[p] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if w.excludeFiles[p] {
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return fmt.Errorf("calculating relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)
		if w.matcher.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		entries = append(entries, Entry{AbsPath: p, RelPath: rel, Info: info})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absRoot, err)
	}
	return entries, nil
}
