// Package closure implements component G of the cache push client: the
// concurrent, memoizing reference/closure engine, plus the single coarse
// mutex guarding the (pathTree, sentPaths) state shared across an
// invocation. See spec.md §4.G, §5.
package closure

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ixmatus/nix-binary-cache/internal/nixstore"
	"github.com/ixmatus/nix-binary-cache/internal/pathtree"
	"github.com/ixmatus/nix-binary-cache/internal/storepath"
)

// State is the client state record from spec.md §3: pathTree and
// sentPaths, mutated under a single mutex. Holders perform only O(1) map
// operations, except Snapshot, which copies the whole tree under the lock;
// I/O always happens outside the critical section.
type State struct {
	mu   sync.Mutex
	Tree pathtree.Tree
	Sent pathtree.Set
}

func NewState(tree pathtree.Tree) *State {
	if tree == nil {
		tree = pathtree.NewTree()
	}
	return &State{Tree: tree, Sent: pathtree.Set{}}
}

// Snapshot returns a shallow copy of the current pathTree for
// persistence (internal/refcache.Store), taken under the lock.
func (s *State) Snapshot() pathtree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(pathtree.Tree, len(s.Tree))
	for k, v := range s.Tree {
		out[k] = v
	}
	return out
}

// MarkSent test-and-sets p in sentPaths, returning true if this call was
// the one that marked it (i.e. it was not already sent).
func (s *State) MarkSent(p storepath.StorePath) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Sent.Contains(p) {
		return false
	}
	s.Sent.Add(p)
	return true
}

// Engine is component G, bound to one store and one State for the
// lifetime of an invocation.
type Engine struct {
	store    nixstore.Store
	storeDir string
	state    *State
	sem      chan struct{} // bounds concurrent subprocess invocations
}

// New constructs a closure engine. jobs bounds the number of concurrent
// subprocess calls (spec.md §5's "bounded fan-out"); values below 1 are
// clamped to 1. Recursive expansion itself is not limited by jobs — an
// errgroup.SetLimit semaphore held across a recursive call would deadlock
// once the limit is reached (a worker blocked waiting for its own
// children to free a slot it is holding), so instead only the actual
// subprocess call inside getRefsDirect acquires the bound.
func New(store nixstore.Store, storeDir string, state *State, jobs int) *Engine {
	if jobs < 1 {
		jobs = 1
	}
	return &Engine{store: store, storeDir: storeDir, state: state, sem: make(chan struct{}, jobs)}
}

func (e *Engine) acquire(ctx context.Context) (func(), error) {
	select {
	case e.sem <- struct{}{}:
		return func() { <-e.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// getRefsDirect invokes the store subprocess to list the immediate
// references of p, filtering p itself from the result. Concurrent calls
// for the same p are tolerated: the caller (GetRefs) deduplicates under
// the lock.
func (e *Engine) getRefsDirect(ctx context.Context, p storepath.StorePath) (pathtree.Set, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	full := storepath.FormatFull(storepath.FullStorePath{StoreDir: e.storeDir, StorePath: p})
	raw, err := e.store.QueryReferences(ctx, full)
	release()
	if err != nil {
		return nil, err
	}

	refs := pathtree.Set{}
	for _, r := range raw {
		parsed, err := storepath.ParsePermissive(r)
		if err != nil {
			return nil, err
		}
		if parsed == p {
			continue
		}
		refs.Add(parsed)
	}
	return refs, nil
}

// GetRefs returns the immediate references of p, consulting pathTree
// first and populating it on a miss. A read-modify-write race on the same
// key is acceptable per spec.md §4.G: the second writer writes the same
// value.
func (e *Engine) GetRefs(ctx context.Context, p storepath.StorePath) (pathtree.Set, error) {
	e.state.mu.Lock()
	if refs, ok := e.state.Tree.Get(p); ok {
		e.state.mu.Unlock()
		return refs, nil
	}
	e.state.mu.Unlock()

	refs, err := e.getRefsDirect(ctx, p)
	if err != nil {
		return nil, err
	}

	e.state.mu.Lock()
	refs = e.state.Tree.Insert(p, refs)
	e.state.mu.Unlock()
	return refs, nil
}

// Closure returns the reflexive-transitive closure of roots under
// GetRefs, expanding in parallel and visiting each path at most once.
func (e *Engine) Closure(ctx context.Context, roots []storepath.StorePath) (pathtree.Set, error) {
	result := pathtree.Set{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)

	var expand func(p storepath.StorePath)
	expand = func(p storepath.StorePath) {
		mu.Lock()
		if result.Contains(p) {
			mu.Unlock()
			return
		}
		result.Add(p)
		mu.Unlock()

		g.Go(func() error {
			refs, err := e.GetRefs(ctx, p)
			if err != nil {
				return err
			}
			for ref := range refs {
				expand(ref)
			}
			return nil
		})
	}

	for _, root := range roots {
		expand(root)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
