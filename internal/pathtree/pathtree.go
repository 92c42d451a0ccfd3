// Package pathtree holds the PathSet and PathTree data model from
// spec.md §3, shared by the on-disk reference cache (internal/refcache)
// and the closure engine (internal/closure).
package pathtree

import "github.com/ixmatus/nix-binary-cache/internal/storepath"

// Set is a PathSet: a set of StorePath.
type Set map[storepath.StorePath]struct{}

func NewSet(paths ...storepath.StorePath) Set {
	s := make(Set, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func (s Set) Add(p storepath.StorePath)      { s[p] = struct{}{} }
func (s Set) Contains(p storepath.StorePath) bool { _, ok := s[p]; return ok }

func (s Set) Slice() []storepath.StorePath {
	out := make([]storepath.StorePath, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	return out
}

// Tree is a PathTree: a mapping from a StorePath to the (non-transitive)
// set of its immediate references, excluding itself. Monotonic: once an
// entry is inserted, it is never mutated (spec.md §3).
type Tree map[storepath.StorePath]Set

func NewTree() Tree { return make(Tree) }

func (t Tree) Get(p storepath.StorePath) (Set, bool) {
	refs, ok := t[p]
	return refs, ok
}

// Insert records refs for p if p is not already present. Returns the
// value now stored for p (either the pre-existing one, or refs).
// Matching spec.md §4.G's read-modify-write race tolerance: a second
// writer for the same key writes the same value, so keeping the first
// writer's value is fine here too.
func (t Tree) Insert(p storepath.StorePath, refs Set) Set {
	if existing, ok := t[p]; ok {
		return existing
	}
	t[p] = refs
	return refs
}
