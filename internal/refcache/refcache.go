// Package refcache implements component F of the cache push client: the
// on-disk persistence of the reference graph across invocations, at
// $HOME/.nix-path-cache (spec.md §4.F, §6).
package refcache

import (
	"os"
	"path/filepath"

	"github.com/ixmatus/nix-binary-cache/internal/errs"
	"github.com/ixmatus/nix-binary-cache/internal/pathtree"
	"github.com/ixmatus/nix-binary-cache/internal/storepath"
)

const DirName = ".nix-path-cache"

// Dir returns the on-disk cache directory for the given HOME.
func Dir(home string) string {
	return filepath.Join(home, DirName)
}

// Load enumerates the cache directory and reconstructs a PathTree.
// Unparseable entries are reported as errors rather than skipped: a
// corrupt cache is a condition worth surfacing, not papering over.
func Load(dir string) (pathtree.Tree, error) {
	tree := pathtree.NewTree()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return tree, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.ReadFailed, dir, err)
	}

	for _, entry := range entries {
		key, err := storepath.Parse(entry.Name())
		if err != nil {
			return nil, errs.Wrap(errs.BadStorePath, entry.Name(), err)
		}

		children, err := os.ReadDir(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errs.Wrap(errs.ReadFailed, entry.Name(), err)
		}
		refs := pathtree.Set{}
		for _, child := range children {
			ref, err := storepath.Parse(child.Name())
			if err != nil {
				return nil, errs.Wrap(errs.BadStorePath, child.Name(), err)
			}
			refs.Add(ref)
		}
		tree[key] = refs
	}
	return tree, nil
}

// Store persists every entry of tree whose subdirectory does not already
// exist on disk. Existing subdirectories are left untouched, matching the
// tree's monotonicity invariant. Each new subdirectory is built as a
// sibling temporary directory, populated, atomically renamed into place,
// and then marked read-only — so a crash or cancellation before the
// rename leaves the on-disk cache exactly as it was (spec.md §5, §6).
func Store(dir string, tree pathtree.Tree) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Wrap(errs.WriteFailed, dir, err)
	}

	for key, refs := range tree {
		keyName := storepath.Format(key)
		finalDir := filepath.Join(dir, keyName)
		if _, err := os.Stat(finalDir); err == nil {
			continue // never rewrite an existing entry
		}

		tmpDir, err := os.MkdirTemp(dir, keyName+".tmp-*")
		if err != nil {
			return errs.Wrap(errs.WriteFailed, keyName, err)
		}

		if err := populate(tmpDir, refs); err != nil {
			os.RemoveAll(tmpDir)
			return err
		}

		if err := os.Rename(tmpDir, finalDir); err != nil {
			os.RemoveAll(tmpDir)
			return errs.Wrap(errs.RenameFailed, keyName, err)
		}
		if err := os.Chmod(finalDir, 0555); err != nil {
			return errs.Wrap(errs.WriteFailed, keyName, err)
		}
	}
	return nil
}

func populate(tmpDir string, refs pathtree.Set) error {
	for ref := range refs {
		refPath := filepath.Join(tmpDir, storepath.Format(ref))
		f, err := os.Create(refPath)
		if err != nil {
			return errs.Wrap(errs.WriteFailed, refPath, err)
		}
		f.Close()
	}
	return nil
}
