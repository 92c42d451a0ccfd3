package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ixmatus/nix-binary-cache/internal/pathtree"
	"github.com/ixmatus/nix-binary-cache/internal/storepath"
	"github.com/ixmatus/nix-binary-cache/internal/upload"
)

var (
	dryRun bool
	jobs   int
)

var pushCmd = &cobra.Command{
	Use:   "push <store-path|full-path>...",
	Short: "Compute the closure of the given paths and push whatever the cache is missing",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPush,
}

func init() {
	pushCmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report what is missing upstream; upload nothing")
	pushCmd.Flags().IntVar(&jobs, "jobs", 4, "bound on concurrent subprocess/HTTP operations")
}

func runPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := initContext(jobs)
	if err != nil {
		exitError("", err)
		return nil
	}

	roots := make([]storepath.StorePath, 0, len(args))
	for _, arg := range args {
		p, err := storepath.ParsePermissive(arg)
		if err != nil {
			exitError(arg, err)
			return nil
		}
		roots = append(roots, p)
	}

	if info, err := c.Cache.NixCacheInfo(ctx); err == nil {
		priority := "none"
		if info.Priority != nil {
			priority = fmt.Sprintf("%d", *info.Priority)
		}
		c.Logger.Info("remote cache", "storeDir", info.StoreDir, "wantMassQuery", info.WantMassQuery, "priority", priority)
	} else {
		c.Logger.Warn("could not fetch nix-cache-info", "err", err)
	}

	orch := &upload.Orchestrator{
		Engine:   c.Engine,
		Cache:    c.Cache,
		Store:    c.Store,
		StoreDir: c.Config.NixStore,
		Uploader: &upload.LoggingUploader{Logger: c.Logger},
		Logger:   c.Logger,
		Jobs:     jobs,
	}

	missing, err := orch.QueryStorePaths(ctx, roots)
	if err != nil {
		if flushErr := c.flush(); flushErr != nil {
			c.Logger.Warn("failed to flush reference cache", "err", flushErr)
		}
		exitError("", err)
		return nil
	}

	if dryRun {
		for _, p := range missing {
			fmt.Println(storepath.Format(p))
		}
		return c.flush()
	}

	orch.Missing = pathtree.NewSet(missing...)
	for _, root := range roots {
		if err := orch.SendClosure(ctx, c.State, root); err != nil {
			if flushErr := c.flush(); flushErr != nil {
				c.Logger.Warn("failed to flush reference cache", "err", flushErr)
			}
			exitError(storepath.Abbreviate(root), err)
			return nil
		}
	}

	return c.flush()
}
