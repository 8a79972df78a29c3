package sync

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RelPath converts an absolute path under root into the canonical
// slash-separated relative key used across the engine. Paths that resolve
// outside the root are rejected.
func RelPath(root, absPath string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", fmt.Errorf("rel path %s: %w", absPath, err)
	}

	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s escapes sync root %s", absPath, root)
	}
	return rel, nil
}

// NormPath normalizes an already-relative path to the canonical key form.
// It rejects escapes the same way RelPath does.
func NormPath(rel string) (string, error) {
	rel = filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
	if rel == ".." || strings.HasPrefix(rel, "../") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %s escapes sync root", rel)
	}
	if rel == "." {
		rel = ""
	}
	return rel, nil
}

// IsSubPath reports whether child is parent itself or lives under it.
func IsSubPath(parent, child string) bool {
	if parent == child {
		return true
	}
	return strings.HasPrefix(child, parent+"/")
}
