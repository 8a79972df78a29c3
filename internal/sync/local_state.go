package sync

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goodCoderXD/cync/internal/utils"
)

// LocalScanner walks the local tree and produces FileMetadata snapshots.
// Hashes are cached across scans: a file whose size and mtime are unchanged
// keeps its previous hash instead of being re-read.
type LocalScanner struct {
	rootDir   string
	filter    *IgnoreList
	lastState map[string]*FileMetadata
}

func NewLocalScanner(rootDir string, filter *IgnoreList) *LocalScanner {
	return &LocalScanner{
		rootDir:   rootDir,
		filter:    filter,
		lastState: make(map[string]*FileMetadata),
	}
}

func (s *LocalScanner) Scan() (map[string]*FileMetadata, error) {
	newState := make(map[string]*FileMetadata)

	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// entries can vanish mid-walk
			if os.IsNotExist(walkErr) {
				return nil
			}
			return fmt.Errorf("walk: %w", walkErr)
		}
		if path == s.rootDir {
			return nil
		}

		relPath, err := RelPath(s.rootDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("local scan stat failed", "path", path, "error", err)
			return nil
		}

		if !s.filter.Included(relPath, info) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			newState[relPath] = &FileMetadata{
				Path:    relPath,
				ModTime: info.ModTime(),
				IsDir:   true,
			}
			return nil
		}

		var hash string
		prev, exists := s.lastState[relPath]
		if exists && prev.Size == info.Size() && prev.ModTime.Equal(info.ModTime()) {
			hash = prev.Hash
		} else {
			hash, err = utils.FileHash(path)
			if err != nil {
				slog.Warn("local scan hash failed", "path", path, "error", err)
				return nil
			}
		}

		newState[relPath] = &FileMetadata{
			Path:    relPath,
			Size:    info.Size(),
			Hash:    hash,
			ModTime: info.ModTime(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local scan: %w", err)
	}

	s.lastState = newState
	return newState, nil
}

// StatPath snapshots a single path, hashing its content. Returns nil when
// the path does not exist.
func (s *LocalScanner) StatPath(relPath string) (*FileMetadata, error) {
	abs := filepath.Join(s.rootDir, filepath.FromSlash(relPath))
	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	meta := &FileMetadata{
		Path:    relPath,
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
	if !info.IsDir() {
		meta.Size = info.Size()
		if meta.Hash, err = utils.FileHash(abs); err != nil {
			return nil, err
		}
	}
	return meta, nil
}
