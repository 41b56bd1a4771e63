package convergence

import (
	"math"
	"sort"
	"strings"

	"convergence-engine/internal/domain/entity"
)

const defaultNormalization = 10

// Weights 密度分权重
type Weights struct {
	Similarity     float64 `mapstructure:"similarity" json:"similarity"`
	ChunkCount     float64 `mapstructure:"chunk_count" json:"chunk_count"`
	KeywordOverlap float64 `mapstructure:"keyword_overlap" json:"keyword_overlap"`
}

// DefaultWeights 0.4 / 0.3 / 0.3
func DefaultWeights() Weights {
	return Weights{Similarity: 0.4, ChunkCount: 0.3, KeywordOverlap: 0.3}
}

// IsZero 全部为零时视为未设置
func (w Weights) IsZero() bool {
	return w.Similarity == 0 && w.ChunkCount == 0 && w.KeywordOverlap == 0
}

func (w Weights) valid() bool {
	for _, v := range []float64{w.Similarity, w.ChunkCount, w.KeywordOverlap} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Scorer 按文档聚合检索块并计算收敛密度
type Scorer struct {
	weights Weights
	// normalization 视为"完全可信"的块数
	normalization float64
}

// NewScorer 创建评分器，权重为零值或 normalization<=0 时使用默认值
func NewScorer(w Weights, normalization float64) *Scorer {
	if w.IsZero() || !w.valid() {
		w = DefaultWeights()
	}
	if normalization <= 0 || math.IsNaN(normalization) {
		normalization = defaultNormalization
	}
	return &Scorer{weights: w, normalization: normalization}
}

// Weights 当前权重
func (s *Scorer) Weights() Weights { return s.weights }

type docGroup struct {
	conv     entity.DocumentConvergence
	scoreSum float64
	seen     map[string]struct{}
	keywords map[string]struct{}
	cats     map[string]struct{}
}

// Rank 对检索块分组评分并排序
// 排序：density 降序，chunkCount 降序，documentID 升序。
func (s *Scorer) Rank(chunks []entity.Chunk, dims entity.FilterDimensions) []entity.DocumentConvergence {
	if len(chunks) == 0 {
		return []entity.DocumentConvergence{}
	}

	wanted := make(map[string]struct{}, len(dims.SemanticKeywords))
	for _, kw := range dims.SemanticKeywords {
		if kw = foldKeyword(kw); kw != "" {
			wanted[kw] = struct{}{}
		}
	}

	groups := make(map[string]*docGroup)
	order := make([]string, 0)
	for _, c := range chunks {
		g, ok := groups[c.DocumentID]
		if !ok {
			g = &docGroup{
				conv: entity.DocumentConvergence{
					DocumentID: c.DocumentID,
					FileName:   c.FileName,
					FilePath:   c.FilePath,
				},
				seen:     make(map[string]struct{}),
				keywords: make(map[string]struct{}),
				cats:     make(map[string]struct{}),
			}
			groups[c.DocumentID] = g
			order = append(order, c.DocumentID)
		}
		// 同一块重复出现（例如缓存与实时结果合并）只计一次
		if _, dup := g.seen[c.ChunkID]; dup && c.ChunkID != "" {
			continue
		}
		g.seen[c.ChunkID] = struct{}{}
		g.add(c)
	}

	out := make([]entity.DocumentConvergence, 0, len(groups))
	for _, id := range order {
		out = append(out, s.finish(groups[id], wanted))
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Density != b.Density {
			return a.Density > b.Density
		}
		if a.ChunkCount != b.ChunkCount {
			return a.ChunkCount > b.ChunkCount
		}
		return a.DocumentID < b.DocumentID
	})
	return out
}

func (g *docGroup) add(c entity.Chunk) {
	g.conv.ChunkCount++
	g.conv.ChunkIDs = append(g.conv.ChunkIDs, c.ChunkID)
	g.scoreSum += c.Signal()

	if g.conv.FileName == "" {
		g.conv.FileName = c.FileName
	}
	if g.conv.FilePath == "" {
		g.conv.FilePath = c.FilePath
	}
	if g.conv.AnalysisType == "" {
		g.conv.AnalysisType = c.AnalysisType
	}
	if c.TotalChunks > g.conv.TotalChunks {
		g.conv.TotalChunks = c.TotalChunks
	}
	for _, kw := range c.Keywords {
		key := foldKeyword(kw)
		if key == "" {
			continue
		}
		if _, ok := g.keywords[key]; !ok {
			g.keywords[key] = struct{}{}
			g.conv.Keywords = append(g.conv.Keywords, strings.TrimSpace(kw))
		}
	}
	for _, cat := range c.Categories {
		if _, ok := g.cats[cat]; !ok && cat != "" {
			g.cats[cat] = struct{}{}
			g.conv.Categories = append(g.conv.Categories, cat)
		}
	}
}

func (s *Scorer) finish(g *docGroup, wanted map[string]struct{}) entity.DocumentConvergence {
	conv := g.conv
	conv.AverageScore = g.scoreSum / float64(conv.ChunkCount)
	conv.KeywordOverlapRatio = overlapRatio(g.keywords, wanted)
	if conv.TotalChunks > 0 {
		conv.Coverage = math.Min(float64(conv.ChunkCount)/float64(conv.TotalChunks), 1)
	}
	conv.Density = s.density(conv.AverageScore, conv.ChunkCount, conv.KeywordOverlapRatio)
	return conv
}

// density = w1*min(avg,1) + w2*min(count/N,1) + w3*overlap
func (s *Scorer) density(avg float64, count int, overlap float64) float64 {
	if math.IsNaN(avg) || avg < 0 {
		avg = 0
	}
	return s.weights.Similarity*math.Min(avg, 1) +
		s.weights.ChunkCount*math.Min(float64(count)/s.normalization, 1) +
		s.weights.KeywordOverlap*overlap
}

// overlapRatio |文档关键词 ∩ 查询关键词| / |文档关键词|，文档无关键词时为 0
func overlapRatio(doc, wanted map[string]struct{}) float64 {
	if len(doc) == 0 || len(wanted) == 0 {
		return 0
	}
	matched := 0
	for kw := range doc {
		if _, ok := wanted[kw]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(doc))
}

func foldKeyword(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ReductionRate 1 - ranked/considered，considered<=0 时为 0
func ReductionRate(ranked, considered int) float64 {
	if considered <= 0 || ranked <= 0 {
		return 0
	}
	if ranked >= considered {
		return 0
	}
	return 1 - float64(ranked)/float64(considered)
}

// EvidencePool 按排名顺序收集不重复的文件名，最多 limit 个（limit<=0 不限）
func EvidencePool(ranked []entity.DocumentConvergence, limit int) []string {
	pool := make([]string, 0, len(ranked))
	seen := make(map[string]struct{}, len(ranked))
	for _, d := range ranked {
		name := d.FileName
		if name == "" {
			name = d.DocumentID
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		pool = append(pool, name)
		if limit > 0 && len(pool) >= limit {
			break
		}
	}
	return pool
}
