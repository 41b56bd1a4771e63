package main

import (
	"context"

	"github.com/spf13/cobra"

	"convergence-engine/internal/bootstrap"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Report corpus distributions and convergence score statistics",
	Args:  cobra.NoArgs,
	RunE:  runAnalyze,
}

func init() {
	addDimensionFlags(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	dims, err := dimensionsFromFlags(cmd)
	if err != nil {
		return err
	}

	rt, err := loadRuntime(ctx, bootstrap.DataOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := bootstrap.NewServices(ctx, rt.cfg, rt.data)
	if err != nil {
		return err
	}

	report, err := svc.Analyzer.Report(ctx, dims)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	return renderReport(cmd.OutOrStdout(), report)
}
