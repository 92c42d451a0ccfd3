// Package upload implements component I of the cache push client: the
// two-phase protocol of spec.md §4.I. queryStorePaths expands the closure
// and asks the cache which members it already has; sendClosure walks the
// closure in post-order, uploading each missing member only after every
// path it references has already completed upload.
package upload

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ixmatus/nix-binary-cache/internal/cacheclient"
	"github.com/ixmatus/nix-binary-cache/internal/closure"
	"github.com/ixmatus/nix-binary-cache/internal/narchive"
	"github.com/ixmatus/nix-binary-cache/internal/nixstore"
	"github.com/ixmatus/nix-binary-cache/internal/pathtree"
	"github.com/ixmatus/nix-binary-cache/internal/storepath"
)

// Uploader pushes a single exported archive to the remote cache. The
// wire contract for this call is spec.md §9's explicit open question: the
// original source's sendPath is a stub that logs rather than uploading,
// and the actual HTTP verb/route/payload are not specified anywhere in
// the system this was distilled from. LoggingUploader below preserves
// that behavior rather than guessing at a protocol; a real deployment
// supplies its own Uploader derived from its cache server's documentation.
type Uploader interface {
	Upload(ctx context.Context, archive narchive.Archive) error
}

// LoggingUploader is the faithful stand-in for the undefined upload
// protocol: it logs what would have been sent and succeeds.
type LoggingUploader struct {
	Logger *slog.Logger
}

func (l *LoggingUploader) Upload(ctx context.Context, archive narchive.Archive) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("upload (stub: no upload protocol specified)",
		"path", archive.Metadata.StorePath,
		"references", archive.Metadata.References,
	)
	archive.Body.Close()
	return nil
}

// Orchestrator ties the closure engine, the cache's read endpoints, the
// store subprocess, and an Uploader together into the two-phase protocol.
type Orchestrator struct {
	Engine   *closure.Engine
	Cache    *cacheclient.Client
	Store    nixstore.Store
	StoreDir string
	Uploader Uploader
	Logger   *slog.Logger

	// Missing restricts SendClosure to paths the remote cache reported
	// absent (the result of QueryStorePaths). A path outside Missing is
	// treated as already present upstream: SendClosure returns
	// immediately without recursing into it, since the cache's own
	// upload-order invariant means a path it already holds must already
	// hold its references too. Nil disables this filter (every path
	// reachable from a call is uploaded).
	Missing pathtree.Set

	// Jobs bounds the number of concurrent uploads (a subprocess export
	// plus one Uploader.Upload call) in flight at once, matching spec.md
	// §5's "bound, ... ≥ 1 and finite" requirement for the upload phase.
	// Values below 1 are clamped to 1 on first use. The bound lives on a
	// semaphore acquired only around the actual export/upload work, not
	// around SendClosure's recursive fan-out itself — the same split
	// closure.Engine uses (closure.go's acquire/release around
	// getRefsDirect only): a semaphore held across a recursive call would
	// deadlock once the limit is reached, since a goroutine blocked
	// waiting for its own children to free a slot would be holding that
	// slot itself.
	Jobs int

	semOnce sync.Once
	sem     chan struct{}
}

func (o *Orchestrator) acquire(ctx context.Context) (func(), error) {
	o.semOnce.Do(func() {
		jobs := o.Jobs
		if jobs < 1 {
			jobs = 1
		}
		o.sem = make(chan struct{}, jobs)
	})
	select {
	case o.sem <- struct{}{}:
		return func() { <-o.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) full(p storepath.StorePath) string {
	return storepath.FormatFull(storepath.FullStorePath{StoreDir: o.StoreDir, StorePath: p})
}

// QueryStorePaths expands the closure of roots and returns the subset the
// remote cache reports it does not already have.
func (o *Orchestrator) QueryStorePaths(ctx context.Context, roots []storepath.StorePath) ([]storepath.StorePath, error) {
	all, err := o.Engine.Closure(ctx, roots)
	if err != nil {
		return nil, err
	}

	paths := all.Slice()
	fullPaths := make([]string, len(paths))
	for i, p := range paths {
		fullPaths[i] = o.full(p)
	}

	presence, err := o.Cache.QueryPaths(ctx, fullPaths)
	if err != nil {
		return nil, err
	}

	var missing []storepath.StorePath
	for i, p := range paths {
		if !presence[fullPaths[i]] {
			missing = append(missing, p)
		}
	}
	o.logger().Info("queried store paths", "closure", len(paths), "missing", len(missing))
	return missing, nil
}

// SendClosure uploads p after recursively uploading every path it
// references, in parallel across independent siblings. Already-sent paths
// are a no-op. Any failure propagates upward without rolling back
// siblings that already completed: per spec.md §4.I, the operation is
// idempotent upstream, so a partially-sent closure is safe to retry.
func (o *Orchestrator) SendClosure(ctx context.Context, state *closure.State, p storepath.StorePath) error {
	if o.Missing != nil && !o.Missing.Contains(p) {
		return nil
	}
	if !state.MarkSent(p) {
		return nil
	}

	refs, err := o.Engine.GetRefs(ctx, p)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for ref := range refs {
		ref := ref
		g.Go(func() error {
			return o.SendClosure(gctx, state, ref)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return o.uploadOne(ctx, p, refs)
}

func (o *Orchestrator) uploadOne(ctx context.Context, p storepath.StorePath, refs pathtree.Set) error {
	release, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	refNames := make([]string, 0, len(refs))
	for ref := range refs {
		refNames = append(refNames, o.full(ref))
	}

	archive, err := narchive.Export(ctx, o.Store, o.full(p), refNames, "")
	if err != nil {
		return err
	}

	if err := o.Uploader.Upload(ctx, archive); err != nil {
		return err
	}
	o.logger().Info("sent", "path", storepath.Abbreviate(p))
	return nil
}
