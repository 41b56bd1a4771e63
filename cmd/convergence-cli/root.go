package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"convergence-engine/internal/bootstrap"
	"convergence-engine/internal/config"
	"convergence-engine/internal/domain/entity"
	"convergence-engine/internal/interfaces/http/dto"
	"convergence-engine/pkg/logger"
)

var (
	configDir  string
	jsonOutput bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "convergence-cli",
	Short: "Semantic convergence navigation over a vector store",
	Long: `convergence-cli runs the convergence engine in-process against the
configured vector store and embedding providers. It ranks documents by
semantic density for an intent, reports corpus statistics and maintains
the persistent embedding cache.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logger.InitWithWriter(cmd.ErrOrStderr(), logLevel, "text")
	},
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "configs", "directory holding config.yaml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// runtime 命令执行期依赖
type runtime struct {
	cfg  *config.Config
	data *bootstrap.DataLayer
}

func (r *runtime) Close() {
	if r.data != nil {
		r.data.Close()
	}
}

func loadRuntime(ctx context.Context, opts bootstrap.DataOptions) (*runtime, error) {
	cfg, err := config.LoadFrom(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", configDir, err)
	}
	data, err := bootstrap.NewDataLayer(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, data: data}, nil
}

// addDimensionFlags 注册维度过滤参数
func addDimensionFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "temporal lower bound (YYYY-MM-DD or RFC3339)")
	cmd.Flags().String("to", "", "temporal upper bound (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringSlice("keywords", nil, "semantic keywords, any may match")
	cmd.Flags().StringSlice("categories", nil, "categories, at least one must match")
	cmd.Flags().String("analysis-type", "", "required analysis type")
}

func dimensionsFromFlags(cmd *cobra.Command) (entity.FilterDimensions, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	keywords, _ := cmd.Flags().GetStringSlice("keywords")
	categories, _ := cmd.Flags().GetStringSlice("categories")
	analysisType, _ := cmd.Flags().GetString("analysis-type")

	req := &dto.DimensionsRequest{
		From:         from,
		To:           to,
		Keywords:     keywords,
		Categories:   categories,
		AnalysisType: analysisType,
	}
	return req.ToEntity()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
