// Package workspace provides shared helpers for walking the watched
// project tree.
package workspace

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// skipDirs are directory names excluded from every workspace walk.
var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	"__pycache__":  {},
	".venv":        {},
	"venv":         {},
	"dist":         {},
	"build":        {},
	".next":        {},
	"target":       {},
	".idea":        {},
	".vscode":      {},
}

// Skipped reports whether any segment of the slash-separated relative
// path is an excluded directory.
func Skipped(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if _, ok := skipDirs[part]; ok {
			return true
		}
	}
	return false
}

// ListFiles returns up to max relative (slash-separated) file paths under
// root, excluding the usual build/VCS directories. A max of 0 means no
// limit. Traversal order is whatever the filesystem yields; callers must
// not depend on a particular order beyond "first found".
func ListFiles(root string, max int) []string {
	if root == "" {
		return nil
	}

	var files []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if _, ok := skipDirs[d.Name()]; ok && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		if max > 0 && len(files) >= max {
			return filepath.SkipAll
		}
		return nil
	})

	return files
}
