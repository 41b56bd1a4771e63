package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"convergence-engine/internal/bootstrap"
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Show vector collection status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		rt, err := loadRuntime(ctx, bootstrap.DataOptions{})
		if err != nil {
			return err
		}
		defer rt.Close()

		info, err := rt.data.VectorStore.Describe(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Backend:  %s\n", rt.data.VectorStore.Backend())
		fmt.Fprintf(out, "Name:     %s\n", info.Name)
		fmt.Fprintf(out, "Status:   %s\n", info.Status)
		fmt.Fprintf(out, "Points:   %d\n", info.PointsCount)
		fmt.Fprintf(out, "Vectors:  %d\n", info.VectorsCount)
		fmt.Fprintf(out, "Segments: %d\n", info.SegmentsCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(collectionCmd)
}
