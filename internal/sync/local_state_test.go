package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestLocalScannerScan(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":           "hello",
		"sub/b.txt":       "world",
		"sub/deep/c.md":   "# c",
		".git/HEAD":       "ref",
		".cync/lockfile":  "x",
		"skipme.cync.part": "partial",
	})

	s := NewLocalScanner(root, NewIgnoreList(nil, nil, 0, false))
	state, err := s.Scan()
	require.NoError(t, err)

	assert.Contains(t, state, "a.txt")
	assert.Contains(t, state, "sub")
	assert.Contains(t, state, "sub/b.txt")
	assert.Contains(t, state, "sub/deep")
	assert.Contains(t, state, "sub/deep/c.md")
	assert.NotContains(t, state, ".git")
	assert.NotContains(t, state, ".git/HEAD")
	assert.NotContains(t, state, ".cync/lockfile")
	assert.NotContains(t, state, "skipme.cync.part")

	a := state["a.txt"]
	assert.False(t, a.IsDir)
	assert.Equal(t, int64(5), a.Size)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", a.Hash)
	assert.True(t, state["sub"].IsDir)
}

func TestLocalScannerHashCache(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hello"})

	s := NewLocalScanner(root, NewIgnoreList(nil, nil, 0, false))
	first, err := s.Scan()
	require.NoError(t, err)

	// unchanged file keeps its hash on rescan
	second, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, first["a.txt"].Hash, second["a.txt"].Hash)

	// content change produces a new hash
	writeTree(t, root, map[string]string{"a.txt": "changed!!"})
	third, err := s.Scan()
	require.NoError(t, err)
	assert.NotEqual(t, first["a.txt"].Hash, third["a.txt"].Hash)
}

func TestLocalScannerStatPath(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"sub/b.txt": "world"})

	s := NewLocalScanner(root, NewIgnoreList(nil, nil, 0, false))

	meta, err := s.StatPath("sub/b.txt")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(5), meta.Size)
	assert.NotEmpty(t, meta.Hash)

	dir, err := s.StatPath("sub")
	require.NoError(t, err)
	require.NotNil(t, dir)
	assert.True(t, dir.IsDir)

	missing, err := s.StatPath("nope.txt")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
