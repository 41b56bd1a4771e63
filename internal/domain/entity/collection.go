package entity

// CollectionInfo 向量库集合状态
type CollectionInfo struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	PointsCount   int64  `json:"points_count"`
	VectorsCount  int64  `json:"vectors_count"`
	SegmentsCount int64  `json:"segments_count"`
}

// Distribution 计数分布项
type Distribution struct {
	Value   string  `json:"value"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// ScoreBucket 收敛分区间统计
type ScoreBucket struct {
	Range   string  `json:"range"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// SummaryStats 数值摘要统计
type SummaryStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// Coverage 数据质量覆盖率
type Coverage struct {
	WithFile         int `json:"with_file"`
	WithCategories   int `json:"with_categories"`
	WithAnalysisType int `json:"with_analysis_type"`
	WithChains       int `json:"with_chains"`
}

// CorpusReport 语料分析报告
type CorpusReport struct {
	Collection            *CollectionInfo `json:"collection,omitempty"`
	PointsAnalyzed        int             `json:"points_analyzed"`
	Truncated             bool            `json:"truncated"`
	UniqueFiles           []string        `json:"unique_files"`
	Categories            []Distribution  `json:"categories"`
	AnalysisTypes         []Distribution  `json:"analysis_types"`
	EnrichmentLevels      []Distribution  `json:"enrichment_levels"`
	ChainParticipants     SummaryStats    `json:"chain_participants"`
	ChainSizeDistribution map[int]int     `json:"chain_size_distribution"`
	ConvergenceScores     SummaryStats    `json:"convergence_scores"`
	ScoreBuckets          []ScoreBucket   `json:"score_buckets"`
	Quality               Coverage        `json:"quality"`
}
