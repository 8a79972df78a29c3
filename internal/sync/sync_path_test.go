package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelPath(t *testing.T) {
	rel, err := RelPath("/data/sync", "/data/sync/sub/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "sub/a.txt", rel)

	_, err = RelPath("/data/sync", "/data/other/a.txt")
	assert.Error(t, err)

	_, err = RelPath("/data/sync", "/data")
	assert.Error(t, err)
}

func TestNormPath(t *testing.T) {
	for raw, want := range map[string]string{
		"a.txt":        "a.txt",
		"./a.txt":      "a.txt",
		"sub//b.txt":   "sub/b.txt",
		"sub/./c.txt":  "sub/c.txt",
		"sub/x/../d":   "sub/d",
		".":            "",
	} {
		got, err := NormPath(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"..", "../a.txt", "a/../../b", "/abs/path"} {
		_, err := NormPath(raw)
		assert.Error(t, err, raw)
	}
}

func TestIsSubPath(t *testing.T) {
	assert.True(t, IsSubPath("a/b", "a/b"))
	assert.True(t, IsSubPath("a/b", "a/b/c.txt"))
	assert.False(t, IsSubPath("a/b", "a/bc.txt"))
	assert.False(t, IsSubPath("a/b", "a"))
}
