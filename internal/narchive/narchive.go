// Package narchive implements component E of the cache push client: the
// archive (NAR) codec, delegated to the store subprocess (internal/nixstore)
// plus sidecar metadata assembled from already-known closure data. Per
// spec.md §4.E, the core never parses NAR or export-stream bytes itself;
// it only requires that dump(p); import(export_of(p)) round-trips through
// the external tool with no semantic loss.
package narchive

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/ixmatus/nix-binary-cache/internal/errs"
	"github.com/ixmatus/nix-binary-cache/internal/nixstore"
)

// Metadata is the sidecar describing an exported archive: the path it was
// exported from, its immediate references, and (optionally) its deriver.
// The core assembles this from the closure engine's own bookkeeping, not
// by parsing the subprocess's output.
type Metadata struct {
	StorePath  string
	References []string
	Deriver    string // empty if unknown, see spec.md §9 open question
}

// Archive pairs an exported byte stream with its sidecar metadata.
type Archive struct {
	Metadata Metadata
	Body     io.ReadCloser
}

// Dump obtains the raw NAR bytes for path.
func Dump(ctx context.Context, store nixstore.Store, path string) (io.ReadCloser, error) {
	return store.Dump(ctx, path)
}

// Export obtains an exportable archive for path, stamping it with the
// metadata the caller already knows (references from the closure engine's
// pathTree, deriver if tracked).
func Export(ctx context.Context, store nixstore.Store, path string, references []string, deriver string) (Archive, error) {
	body, err := store.Export(ctx, path)
	if err != nil {
		return Archive{}, err
	}
	return Archive{
		Metadata: Metadata{StorePath: path, References: references, Deriver: deriver},
		Body:     body,
	}, nil
}

// Import pushes an exported archive back into the store. On failure the
// bytes read so far are written to a temporary file for post-mortem
// inspection, and the error names that file.
func Import(ctx context.Context, store nixstore.Store, a Archive) error {
	defer a.Body.Close()

	var captured bytes.Buffer
	tee := io.TeeReader(a.Body, &captured)

	if err := store.Import(ctx, tee); err != nil {
		tmpPath, writeErr := spill(a.Metadata.StorePath, captured.Bytes())
		if writeErr != nil {
			return errs.Wrap(errs.WriteFailed, a.Metadata.StorePath, writeErr)
		}
		return errs.Wrap(errs.CacheRejectedUpload, a.Metadata.StorePath+" (spilled to "+tmpPath+")", err)
	}
	return nil
}

func spill(storePath string, data []byte) (string, error) {
	f, err := os.CreateTemp("", "nix-cache-push-import-*.nar")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}
