package sync

import (
	"os"
	"path"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

var defaultIgnoreLines = []string{
	// cync internals
	".cync/",
	"*.cync.part*",
	"*.cync.tmp.*",
	"*.conflict-*",
	// VCS
	".git/",
	// python
	"__pycache__/",
	"*.py[cod]",
	"*.egg-info/",
	".env/",
	"venv/",
	".venv/",
	// IDE/Editor-specific
	".vscode/",
	".idea/",
	"*.swp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

// IgnoreList decides whether a relative path participates in sync. It is
// pure: the same path and file info always produce the same answer.
type IgnoreList struct {
	ignore         *gitignore.GitIgnore
	extensions     map[string]struct{}
	maxFileSize    int64
	followSymlinks bool
}

// NewIgnoreList builds the path filter. Extensions is an allow-list applied
// to files only; empty means all extensions participate. A maxFileSize of
// zero disables the size threshold.
func NewIgnoreList(patterns, extensions []string, maxFileSize int64, followSymlinks bool) *IgnoreList {
	lines := append([]string{}, defaultIgnoreLines...)
	lines = append(lines, patterns...)

	var exts map[string]struct{}
	if len(extensions) > 0 {
		exts = make(map[string]struct{}, len(extensions))
		for _, e := range extensions {
			exts[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
		}
	}

	return &IgnoreList{
		ignore:         gitignore.CompileIgnoreLines(lines...),
		extensions:     exts,
		maxFileSize:    maxFileSize,
		followSymlinks: followSymlinks,
	}
}

// Included reports whether relPath participates in sync. Info may be nil
// when the path no longer exists (delete events); only the path-based rules
// apply then.
func (l *IgnoreList) Included(relPath string, info os.FileInfo) bool {
	if relPath == "" || relPath == ".." || strings.HasPrefix(relPath, "../") {
		return false
	}
	if l.ignore.MatchesPath(relPath) {
		return false
	}

	isDir := info != nil && info.IsDir()
	if !isDir && l.extensions != nil {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(relPath), "."))
		// Extensionless paths with unknown type (delete events) pass: they
		// may be directories, which the allow-list does not apply to.
		if ext != "" || info != nil {
			if _, ok := l.extensions[ext]; !ok {
				return false
			}
		}
	}

	if info == nil {
		return true
	}
	if !l.followSymlinks && info.Mode()&os.ModeSymlink != 0 {
		return false
	}
	if l.maxFileSize > 0 && !info.IsDir() && info.Size() > l.maxFileSize {
		return false
	}
	return true
}

// IncludedRemote applies the filter to a remote entry, where only the
// directory flag and size are known.
func (l *IgnoreList) IncludedRemote(relPath string, isDir bool, size int64) bool {
	if relPath == "" || relPath == ".." || strings.HasPrefix(relPath, "../") {
		return false
	}
	if l.ignore.MatchesPath(relPath) {
		return false
	}
	if isDir {
		return true
	}
	if l.extensions != nil {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(relPath), "."))
		if _, ok := l.extensions[ext]; !ok {
			return false
		}
	}
	return l.maxFileSize <= 0 || size <= l.maxFileSize
}
