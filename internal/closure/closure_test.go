package closure

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
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

// fakeStore is an in-memory nixstore.Store for exercising the closure
// engine without shelling out. QueryReferences counts invocations per path
// so tests can assert memoization actually happens.
type fakeStore struct {
	refs  map[string][]string
	calls map[string]*int32
	mu    sync.Mutex
}

func newFakeStore(refs map[string][]string) *fakeStore {
	return &fakeStore{refs: refs, calls: map[string]*int32{}}
}

func (f *fakeStore) Dump(ctx context.Context, path string) (io.ReadCloser, error) {
	panic("unused in these tests")
}

func (f *fakeStore) Export(ctx context.Context, path string) (io.ReadCloser, error) {
	panic("unused in these tests")
}

func (f *fakeStore) Import(ctx context.Context, r io.Reader) error {
	panic("unused in these tests")
}

func (f *fakeStore) QueryReferences(ctx context.Context, path string) ([]string, error) {
	f.mu.Lock()
	c, ok := f.calls[path]
	if !ok {
		var n int32
		c = &n
		f.calls[path] = c
	}
	f.mu.Unlock()
	atomic.AddInt32(c, 1)
	return f.refs[path], nil
}

func TestGetRefsMemoizes(t *testing.T) {
	a := sp('a', "a")
	b := sp('b', "b")
	full := func(p storepath.StorePath) string {
		return storepath.FormatFull(storepath.FullStorePath{StoreDir: "/nix/store", StorePath: p})
	}
	store := newFakeStore(map[string][]string{full(a): {full(b)}})

	eng := New(store, "/nix/store", NewState(nil), 2)
	ctx := context.Background()

	refs1, err := eng.GetRefs(ctx, a)
	require.NoError(t, err)
	assert.True(t, refs1.Contains(b))

	refs2, err := eng.GetRefs(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, refs1, refs2)

	store.mu.Lock()
	n := *store.calls[full(a)]
	store.mu.Unlock()
	assert.EqualValues(t, 1, n, "second GetRefs should hit pathTree, not the subprocess")
}

func TestGetRefsFiltersSelfReference(t *testing.T) {
	a := sp('a', "a")
	full := storepath.FormatFull(storepath.FullStorePath{StoreDir: "/nix/store", StorePath: a})
	store := newFakeStore(map[string][]string{full: {full}})

	eng := New(store, "/nix/store", NewState(nil), 2)
	refs, err := eng.GetRefs(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, refs.Contains(a), "a path must never reference itself, spec.md §8 invariant 3")
	assert.Empty(t, refs)
}

func TestClosureVisitsEachPathOnce(t *testing.T) {
	a, b, c, d := sp('a', "a"), sp('b', "b"), sp('c', "c"), sp('d', "d")
	dir := "/nix/store"
	full := func(p storepath.StorePath) string {
		return storepath.FormatFull(storepath.FullStorePath{StoreDir: dir, StorePath: p})
	}
	store := newFakeStore(map[string][]string{
		full(a): {full(b), full(c)},
		full(b): {full(d)},
		full(c): {full(d)},
		full(d): {},
	})

	eng := New(store, dir, NewState(nil), 4)
	result, err := eng.Closure(context.Background(), []storepath.StorePath{a})
	require.NoError(t, err)

	assert.ElementsMatch(t, []storepath.StorePath{a, b, c, d}, result.Slice())

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.EqualValues(t, 1, *store.calls[full(d)], "d must be expanded exactly once despite two parents")
}

func TestMarkSentOnce(t *testing.T) {
	state := NewState(nil)
	a := sp('a', "a")
	assert.True(t, state.MarkSent(a))
	assert.False(t, state.MarkSent(a))
}

func TestSnapshotIsACopy(t *testing.T) {
	tree := pathtree.NewTree()
	a, b := sp('a', "a"), sp('b', "b")
	tree.Insert(a, pathtree.NewSet(b))
	state := NewState(tree)

	snap := state.Snapshot()
	snap[b] = pathtree.NewSet(a)

	_, ok := state.Tree.Get(b)
	assert.False(t, ok, "mutating the snapshot must not affect the live tree")
}
