package refcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ixmatus/nix-binary-cache/internal/pathtree"
	"github.com/ixmatus/nix-binary-cache/internal/storepath"
)

func sp(prefix byte, name string) storepath.StorePath {
	p := make([]byte, 32)
	for i := range p {
		p[i] = prefix
	}
	return storepath.StorePath{Prefix: string(p), Name: name}
}

func TestLoadMissingDirReturnsEmptyTree(t *testing.T) {
	tree, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, tree)
}

func TestStoreThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	a, b, c := sp('a', "a"), sp('b', "b"), sp('c', "c")
	tree := pathtree.NewTree()
	tree.Insert(a, pathtree.NewSet(b, c))
	tree.Insert(b, pathtree.Set{})

	require.NoError(t, Store(dir, tree))

	loaded, err := Load(dir)
	require.NoError(t, err)

	refs, ok := loaded.Get(a)
	require.True(t, ok)
	assert.True(t, refs.Contains(b))
	assert.True(t, refs.Contains(c))

	refs, ok = loaded.Get(b)
	require.True(t, ok)
	assert.Empty(t, refs)
}

func TestStoreNeverRewritesExistingEntry(t *testing.T) {
	dir := t.TempDir()
	a, b := sp('a', "a"), sp('b', "b")
	tree := pathtree.NewTree()
	tree.Insert(a, pathtree.NewSet(b))
	require.NoError(t, Store(dir, tree))

	keyDir := filepath.Join(dir, storepath.Format(a))
	info, err := os.Stat(keyDir)
	require.NoError(t, err)
	mode := info.Mode().Perm()

	// A second Store call with a different (impossible under the
	// monotonicity invariant, but worth asserting defensively) value for
	// the same key must not touch the on-disk entry.
	tree2 := pathtree.NewTree()
	tree2[a] = pathtree.Set{}
	require.NoError(t, Store(dir, tree2))

	entries, err := os.ReadDir(keyDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "existing subdirectory must be left untouched")

	info2, err := os.Stat(keyDir)
	require.NoError(t, err)
	assert.Equal(t, mode, info2.Mode().Perm())
}

func TestStoreMarksDirectoryReadOnly(t *testing.T) {
	dir := t.TempDir()
	a := sp('a', "a")
	tree := pathtree.NewTree()
	tree.Insert(a, pathtree.Set{})
	require.NoError(t, Store(dir, tree))

	info, err := os.Stat(filepath.Join(dir, storepath.Format(a)))
	require.NoError(t, err)
	assert.EqualValues(t, 0555, info.Mode().Perm())
}

func TestLoadRejectsUnparseableEntry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "not-a-store-path"), 0755))

	_, err := Load(dir)
	assert.Error(t, err, "a corrupt cache entry must be reported, not skipped")
}

func TestDirJoinsHomeAndWellKnownName(t *testing.T) {
	assert.Equal(t, "/home/alice/.nix-path-cache", Dir("/home/alice"))
}
