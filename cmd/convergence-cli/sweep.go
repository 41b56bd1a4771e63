package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"convergence-engine/internal/bootstrap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove persistent embedding cache entries older than the TTL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		rt, err := loadRuntime(ctx, bootstrap.DataOptions{SkipVectorStore: true})
		if err != nil {
			return err
		}
		defer rt.Close()

		if rt.data.EmbeddingStore == nil {
			return fmt.Errorf("embedding cache store is %q, nothing to sweep", rt.cfg.Embedding.Cache.Store)
		}
		svc, err := bootstrap.NewEmbeddingService(ctx, rt.cfg.Embedding, rt.data.EmbeddingStore)
		if err != nil {
			return err
		}
		n, err := svc.Sweep(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), map[string]int64{"removed": n})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries (ttl %s)\n", n, rt.cfg.Embedding.Cache.TTL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
