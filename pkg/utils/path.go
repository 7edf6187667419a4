package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SecureJoin joins elements onto base and fails if the result escapes base.
//
//	dst, err := SecureJoin(favoritesDir, filepath.Base(src))
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if fullPath != cleanBase && !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory %s", base)
	}
	return fullPath, nil
}

// NormalizeExtensions lower-cases extensions and makes sure each has a leading dot.
// Empty entries and duplicates are dropped.
func NormalizeExtensions(exts []string) []string {
	seen := make(map[string]struct{}, len(exts))
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, dup := seen[ext]; dup {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

// HasExtension reports whether name ends in one of the normalized extensions.
func HasExtension(name string, normalized []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, allowed := range normalized {
		if ext == allowed {
			return true
		}
	}
	return false
}
