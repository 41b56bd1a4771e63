package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"convergence-engine/internal/application/convergence"
	"convergence-engine/internal/bootstrap"
)

var navigateCmd = &cobra.Command{
	Use:   "navigate [intent]",
	Short: "Rank documents by semantic convergence for an intent",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runNavigate,
}

func init() {
	addDimensionFlags(navigateCmd)
	navigateCmd.Flags().Bool("vector", false, "search by intent embedding instead of structured filtering")
	navigateCmd.Flags().Int("limit", 0, "maximum chunks to retrieve (0 uses the configured default)")
	navigateCmd.Flags().Int("max", 0, "maximum convergences to return (0 uses the configured default)")
	rootCmd.AddCommand(navigateCmd)
}

func runNavigate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	intent := strings.Join(args, " ")

	dims, err := dimensionsFromFlags(cmd)
	if err != nil {
		return err
	}
	useVector, _ := cmd.Flags().GetBool("vector")
	limit, _ := cmd.Flags().GetInt("limit")
	maxConv, _ := cmd.Flags().GetInt("max")

	rt, err := loadRuntime(ctx, bootstrap.DataOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := bootstrap.NewServices(ctx, rt.cfg, rt.data)
	if err != nil {
		return err
	}

	res, err := svc.Engine.Navigate(ctx, intent, dims, convergence.NavigateOptions{
		UseVectorSearch: useVector,
		Limit:           limit,
		MaxConvergences: maxConv,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	return renderNavigation(cmd.OutOrStdout(), res)
}
