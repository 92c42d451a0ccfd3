// Package cli implements the command-line interface for the cache push
// client, grounded on the cmdContext / exitError shape of the wvc
// example's internal/cli package (cobra root command, a context struct
// bundling shared resources, a single fatal-error exit path).
package cli

import (
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ixmatus/nix-binary-cache/internal/cacheclient"
	"github.com/ixmatus/nix-binary-cache/internal/closure"
	"github.com/ixmatus/nix-binary-cache/internal/config"
	"github.com/ixmatus/nix-binary-cache/internal/nixstore"
	"github.com/ixmatus/nix-binary-cache/internal/refcache"
)

// cmdContext bundles the resources every subcommand needs: the explicit
// (config, state, http-manager) bundle spec.md §9's design notes call
// for, threaded by reference rather than kept process-global.
type cmdContext struct {
	Config *config.Config
	Store  nixstore.Store
	Cache  *cacheclient.Client
	State  *closure.State
	Engine *closure.Engine
	Logger *slog.Logger
}

func initContext(jobs int) (*cmdContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	tree, err := refcache.Load(cfg.RefCacheDir())
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store := nixstore.New(cfg.StoreBin)
	state := closure.NewState(tree)
	engine := closure.New(store, cfg.NixStore, state, jobs)
	cache := cacheclient.New(cfg.CacheURL, cfg.BasicAuthUser, cfg.BasicAuthPass)

	return &cmdContext{
		Config: cfg,
		Store:  store,
		Cache:  cache,
		State:  state,
		Engine: engine,
		Logger: logger,
	}, nil
}

// flush persists the closure engine's in-memory pathTree to disk. Called
// on every normal termination path, matching spec.md §5's cancellation
// contract: a cancelled invocation still flushes on normal termination,
// and an abort leaves the on-disk cache at its last successful rename.
func (c *cmdContext) flush() error {
	return refcache.Store(c.Config.RefCacheDir(), c.State.Snapshot())
}

var rootCmd = &cobra.Command{
	Use:   "nix-cache-push",
	Short: "Push a store path closure to a binary cache",
	Long: `nix-cache-push computes the full reverse-reachable dependency closure of
one or more store paths, asks a remote binary cache which members of that
closure it is missing, and uploads each missing member (together with its
metadata) in dependency order.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(pushCmd)
}

// exitError prints a single diagnostic line — the abbreviated path (if
// known) and the error — in red, then exits non-zero. Per spec.md §7,
// this is the only place a diagnostic is formatted for a human; every
// other package just returns errors.
func exitError(pathHint string, err error) {
	if pathHint != "" {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %s: %v\n", pathHint, err)
	} else {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}
