// Package analysis 生成语料分析报告：文件、分类、收敛链与数据质量统计
package analysis

import (
	"context"
	"math"
	"sort"

	"convergence-engine/internal/domain/entity"
	"convergence-engine/pkg/logger"
	"convergence-engine/pkg/tracer"
)

// defaultScanLimit 单次报告最多扫描的点数
const defaultScanLimit = 10000

// CorpusSource 报告所需的向量库能力
type CorpusSource interface {
	ScrollChunks(ctx context.Context, dims entity.FilterDimensions, limit int) ([]entity.Chunk, bool, error)
	Collection(ctx context.Context) (*entity.CollectionInfo, error)
}

// scoreRanges 收敛分区间，左闭右开，最后一档无上限
var scoreRanges = []struct {
	label    string
	min, max float64
}{
	{"0-5", 0, 5},
	{"5-10", 5, 10},
	{"10-15", 10, 15},
	{"15-20", 15, 20},
	{"20+", 20, math.Inf(1)},
}

// Analyzer 语料分析器
type Analyzer struct {
	source    CorpusSource
	scanLimit int
}

// NewAnalyzer 创建分析器，scanLimit<=0 时使用默认值
func NewAnalyzer(source CorpusSource, scanLimit int) *Analyzer {
	if scanLimit <= 0 {
		scanLimit = defaultScanLimit
	}
	return &Analyzer{source: source, scanLimit: scanLimit}
}

// Report 扫描语料（可按维度限定）并汇总
func (a *Analyzer) Report(ctx context.Context, dims entity.FilterDimensions) (report *entity.CorpusReport, err error) {
	ctx = logger.WithComponent(ctx, "analysis")
	ctx, span := tracer.Start(ctx, "analysis.Report")
	defer func() { tracer.End(span, err) }()

	chunks, truncated, err := a.source.ScrollChunks(ctx, dims, a.scanLimit)
	if err != nil {
		return nil, err
	}

	report = Summarize(chunks)
	report.Truncated = truncated
	if info, err := a.source.Collection(ctx); err == nil {
		report.Collection = info
	} else {
		logger.Warn(ctx, "collection status unavailable for report", "error", err.Error())
	}

	if truncated {
		logger.Warn(ctx, "corpus report truncated", "scan_limit", a.scanLimit)
	}
	logger.Info(ctx, "corpus report generated",
		"points", report.PointsAnalyzed,
		"unique_files", len(report.UniqueFiles),
	)
	return report, nil
}

// Summarize 对已取得的块计算报告，不访问向量库
func Summarize(chunks []entity.Chunk) *entity.CorpusReport {
	report := &entity.CorpusReport{
		PointsAnalyzed:        len(chunks),
		UniqueFiles:           []string{},
		Categories:            []entity.Distribution{},
		AnalysisTypes:         []entity.Distribution{},
		EnrichmentLevels:      []entity.Distribution{},
		ChainSizeDistribution: map[int]int{},
		ScoreBuckets:          []entity.ScoreBucket{},
	}

	files := make(map[string]struct{})
	categories := make(map[string]int)
	analysisTypes := make(map[string]int)
	enrichment := make(map[string]int)
	var chainSizes, chainScores []float64

	for _, c := range chunks {
		if c.FileName != "" {
			files[c.FileName] = struct{}{}
			report.Quality.WithFile++
		}
		if len(c.Categories) > 0 {
			report.Quality.WithCategories++
		}
		for _, cat := range c.Categories {
			categories[cat]++
		}
		if c.AnalysisType != "" {
			analysisTypes[c.AnalysisType]++
			report.Quality.WithAnalysisType++
		}
		if c.EnrichmentLevel != "" {
			enrichment[c.EnrichmentLevel]++
		}
		if len(c.ConvergenceChains) > 0 {
			report.Quality.WithChains++
		}
		for _, chain := range c.ConvergenceChains {
			n := len(chain.Participants)
			chainSizes = append(chainSizes, float64(n))
			report.ChainSizeDistribution[n]++
			chainScores = append(chainScores, chain.ConvergenceScore)
		}
	}

	for f := range files {
		report.UniqueFiles = append(report.UniqueFiles, f)
	}
	sort.Strings(report.UniqueFiles)

	report.Categories = distribution(categories, len(chunks))
	report.AnalysisTypes = distribution(analysisTypes, len(chunks))
	report.EnrichmentLevels = distribution(enrichment, len(chunks))
	report.ChainParticipants = summarize(chainSizes)
	report.ConvergenceScores = summarize(chainScores)
	report.ScoreBuckets = buckets(chainScores)
	return report
}

// distribution 按次数降序、取值升序；百分比相对于点总数
func distribution(counts map[string]int, total int) []entity.Distribution {
	out := make([]entity.Distribution, 0, len(counts))
	for v, n := range counts {
		out = append(out, entity.Distribution{Value: v, Count: n, Percent: percent(n, total)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(n) / float64(total) * 100)
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

// summarize 样本标准差，少于两个样本时为 0
func summarize(values []float64) entity.SummaryStats {
	if len(values) == 0 {
		return entity.SummaryStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	mean := sum / float64(n)

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var stddev float64
	if n > 1 {
		var sq float64
		for _, v := range sorted {
			sq += (v - mean) * (v - mean)
		}
		stddev = math.Sqrt(sq / float64(n-1))
	}

	return entity.SummaryStats{
		Count:  n,
		Mean:   mean,
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
		StdDev: stddev,
	}
}

// buckets 始终输出全部区间；负分不计入任何区间
func buckets(scores []float64) []entity.ScoreBucket {
	out := make([]entity.ScoreBucket, 0, len(scoreRanges))
	for _, r := range scoreRanges {
		var n int
		var sum float64
		for _, s := range scores {
			if s >= r.min && s < r.max {
				n++
				sum += s
			}
		}
		b := entity.ScoreBucket{Range: r.label, Count: n}
		if n > 0 {
			b.Average = sum / float64(n)
		}
		out = append(out, b)
	}
	return out
}
