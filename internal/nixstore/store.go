// Package nixstore wraps invocations of the local object-store subprocess
// (spec.md §6, the "store" binary, overridable via NIX_STORE_BIN). This is
// an external collaborator per spec.md §1: the core never interprets NAR
// bytes or export streams itself, it only shells out and pipes bytes
// through. The interface shape is grounded on the Store interface in
// zimbatm-nix-experiments' internal/interfaces package from the retrieval
// pack, adapted from a single-process "one call per method" shape to the
// context-aware, explicit-cleanup shape this system's concurrency model
// (spec.md §5) requires.
package nixstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/ixmatus/nix-binary-cache/internal/errs"
)

// Store is the subprocess-backed capability the closure engine and archive
// codec depend on.
type Store interface {
	// Dump obtains the raw NAR archive for path.
	Dump(ctx context.Context, path string) (io.ReadCloser, error)
	// Export obtains an exportable archive stream for path.
	Export(ctx context.Context, path string) (io.ReadCloser, error)
	// Import pushes an exported archive stream back into the store.
	Import(ctx context.Context, r io.Reader) error
	// QueryReferences lists the immediate references of path, including
	// path itself (the caller, per spec.md §4.G, filters self-references).
	QueryReferences(ctx context.Context, path string) ([]string, error)
}

// Exec is the default Store implementation, invoking the named binary
// (NIX_STORE_BIN, default "nix-store").
type Exec struct {
	Bin string
}

func New(bin string) *Exec {
	if bin == "" {
		bin = "nix-store"
	}
	return &Exec{Bin: bin}
}

func (e *Exec) Dump(ctx context.Context, path string) (io.ReadCloser, error) {
	return e.runStdout(ctx, "--dump", path)
}

func (e *Exec) Export(ctx context.Context, path string) (io.ReadCloser, error) {
	return e.runStdout(ctx, "--export", path)
}

func (e *Exec) Import(ctx context.Context, r io.Reader) error {
	cmd := exec.CommandContext(ctx, e.Bin, "--import")
	cmd.Stdin = r
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return wrapExitErr(e.Bin, "--import", err, stderr.String())
	}
	return nil
}

func (e *Exec) QueryReferences(ctx context.Context, path string) ([]string, error) {
	rc, err := e.runStdout(ctx, "--query", "--references", path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errs.Wrap(errs.ReadFailed, path, err)
	}
	fields := strings.Fields(string(data))
	return fields, nil
}

// runStdout runs the subprocess to completion, buffering its stdout, and
// returns it as a ReadCloser. Buffering (rather than streaming from a live
// pipe) keeps process cleanup unconditional: by the time this returns, the
// subprocess has already exited and been waited on.
func (e *Exec) runStdout(ctx context.Context, args ...string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, e.Bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, wrapExitErr(e.Bin, strings.Join(args, " "), err, stderr.String())
	}
	return io.NopCloser(bytes.NewReader(stdout.Bytes())), nil
}

func wrapExitErr(bin, args string, err error, stderr string) error {
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return errs.Wrap(errs.NonZeroExit, fmt.Sprintf("%s %s", bin, args), fmt.Errorf("exit %d: %s", exitErr.ExitCode(), stderr))
	}
	return errs.Wrap(errs.SpawnFailed, fmt.Sprintf("%s %s", bin, args), err)
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
