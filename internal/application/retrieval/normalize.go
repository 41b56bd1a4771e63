package retrieval

import (
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"convergence-engine/internal/domain/entity"
)

// FieldPaths 各规范字段的候选 payload 路径，按优先级排列
// 路径以 "." 分隔嵌套对象，例如 metadata.fileName。
type FieldPaths struct {
	ChunkID          []string `mapstructure:"chunk_id"`
	Content          []string `mapstructure:"content"`
	FileName         []string `mapstructure:"file_name"`
	FilePath         []string `mapstructure:"file_path"`
	Keywords         []string `mapstructure:"keywords"`
	Categories       []string `mapstructure:"categories"`
	AnalysisType     []string `mapstructure:"analysis_type"`
	EnrichmentLevel  []string `mapstructure:"enrichment_level"`
	ConvergenceScore []string `mapstructure:"convergence_score"`
	ChunkIndex       []string `mapstructure:"chunk_index"`
	TotalChunks      []string `mapstructure:"total_chunks"`
	Chains           []string `mapstructure:"chains"`
	Timestamp        []string `mapstructure:"timestamp"`
}

// DefaultFieldPaths 历史上出现过的字段名，直接字段优先于 metadata 内的同名字段
func DefaultFieldPaths() FieldPaths {
	return FieldPaths{
		ChunkID:          []string{"chunkId", "chunk_id", "id", "metadata.chunkId"},
		Content:          []string{"content", "chunkText", "text", "metadata.content", "metadata.chunkText"},
		FileName:         []string{"fileName", "file_name", "sourceFile", "file", "metadata.fileName", "metadata.sourceFile"},
		FilePath:         []string{"filePath", "file_path", "path", "metadata.filePath", "metadata.path"},
		Keywords:         []string{"keywords", "semanticKeywords", "metadata.keywords"},
		Categories:       []string{"categories", "category", "metadata.categories"},
		AnalysisType:     []string{"analysisType", "analysis_type", "intelligenceType", "intelligence_type", "metadata.analysisType"},
		EnrichmentLevel:  []string{"enrichmentLevel", "enrichment_level", "metadata.enrichmentLevel"},
		ConvergenceScore: []string{"convergenceScore", "convergence_score", "metadata.convergenceScore"},
		ChunkIndex:       []string{"chunkIndex", "chunk_index", "metadata.chunkIndex"},
		TotalChunks:      []string{"totalChunks", "total_chunks", "metadata.totalChunks"},
		Chains:           []string{"convergenceChains", "convergence_chains", "metadata.convergenceChains"},
		Timestamp:        []string{"timestamp", "createdAt", "created_at", "metadata.timestamp"},
	}
}

func (p FieldPaths) withDefaults() FieldPaths {
	def := DefaultFieldPaths()
	fill := func(dst *[]string, src []string) {
		if len(*dst) == 0 {
			*dst = src
		}
	}
	fill(&p.ChunkID, def.ChunkID)
	fill(&p.Content, def.Content)
	fill(&p.FileName, def.FileName)
	fill(&p.FilePath, def.FilePath)
	fill(&p.Keywords, def.Keywords)
	fill(&p.Categories, def.Categories)
	fill(&p.AnalysisType, def.AnalysisType)
	fill(&p.EnrichmentLevel, def.EnrichmentLevel)
	fill(&p.ConvergenceScore, def.ConvergenceScore)
	fill(&p.ChunkIndex, def.ChunkIndex)
	fill(&p.TotalChunks, def.TotalChunks)
	fill(&p.Chains, def.Chains)
	fill(&p.Timestamp, def.Timestamp)
	return p
}

// Normalizer 将异构 payload 规范化为 Chunk
type Normalizer struct {
	paths FieldPaths
}

// NewNormalizer 创建规范化器，未配置的字段使用默认候选路径
func NewNormalizer(paths FieldPaths) *Normalizer {
	return &Normalizer{paths: paths.withDefaults()}
}

// Chunk 规范化单个点
// documentID 依次取 filePath、fileName、chunkID。
func (n *Normalizer) Chunk(p Point) entity.Chunk {
	pl := p.Payload
	c := entity.Chunk{
		ChunkID:         p.ID,
		Content:         lookupString(pl, n.paths.Content),
		FileName:        lookupString(pl, n.paths.FileName),
		FilePath:        lookupString(pl, n.paths.FilePath),
		Keywords:        lookupStrings(pl, n.paths.Keywords),
		Categories:      lookupStrings(pl, n.paths.Categories),
		AnalysisType:    lookupString(pl, n.paths.AnalysisType),
		EnrichmentLevel: lookupString(pl, n.paths.EnrichmentLevel),
		ChunkIndex:      int(lookupNumber(pl, n.paths.ChunkIndex)),
		TotalChunks:     int(lookupNumber(pl, n.paths.TotalChunks)),
	}
	if c.ChunkID == "" {
		c.ChunkID = lookupString(pl, n.paths.ChunkID)
	}
	if v, ok := lookup(pl, n.paths.ConvergenceScore); ok {
		c.ConvergenceScore = clamp01(toFloat(v))
	}
	if p.Score != nil {
		s := clamp01(*p.Score)
		c.SimilarityScore = &s
	}
	if v, ok := lookup(pl, n.paths.Chains); ok {
		c.ConvergenceChains = toChains(v)
	}
	if v, ok := lookup(pl, n.paths.Timestamp); ok {
		c.Timestamp = toTime(v)
	}

	if c.FileName == "" && c.FilePath != "" {
		c.FileName = path.Base(c.FilePath)
	}
	switch {
	case c.FilePath != "":
		c.DocumentID = c.FilePath
	case c.FileName != "":
		c.DocumentID = c.FileName
	default:
		c.DocumentID = c.ChunkID
	}
	return c
}

// Chunks 批量规范化
func (n *Normalizer) Chunks(points []Point) []entity.Chunk {
	out := make([]entity.Chunk, 0, len(points))
	for _, p := range points {
		out = append(out, n.Chunk(p))
	}
	return out
}

// lookup 按优先级返回第一个存在且非空的值
func lookup(payload map[string]any, paths []string) (any, bool) {
	for _, p := range paths {
		if v, ok := resolve(payload, p); ok && !isBlank(v) {
			return v, true
		}
	}
	return nil, false
}

func resolve(payload map[string]any, dotted string) (any, bool) {
	var cur any = payload
	for _, part := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

func lookupString(payload map[string]any, paths []string) string {
	v, ok := lookup(payload, paths)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// lookupStrings 兼容单值与列表两种形态
func lookupStrings(payload map[string]any, paths []string) []string {
	v, ok := lookup(payload, paths)
	if !ok {
		return nil
	}
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch t := v.(type) {
	case string:
		add(t)
	case []string:
		for _, s := range t {
			add(s)
		}
	case []any:
		for _, item := range t {
			if item != nil {
				add(fmt.Sprint(item))
			}
		}
	default:
		add(fmt.Sprint(t))
	}
	return out
}

func lookupNumber(payload map[string]any, paths []string) float64 {
	v, ok := lookup(payload, paths)
	if !ok {
		return 0
	}
	return toFloat(v)
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func toChains(v any) []entity.ConvergenceChain {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]entity.ConvergenceChain, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		chain := entity.ConvergenceChain{
			Participants: lookupStrings(m, []string{"participants"}),
		}
		if s, ok := lookup(m, []string{"convergenceScore", "convergence_score", "score"}); ok {
			chain.ConvergenceScore = toFloat(s)
		}
		out = append(out, chain)
	}
	return out
}

// toTime 支持 unix 秒、毫秒与 RFC3339 字符串
func toTime(v any) time.Time {
	switch t := v.(type) {
	case float64:
		if t > 1e12 {
			return time.UnixMilli(int64(t)).UTC()
		}
		return time.Unix(int64(t), 0).UTC()
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Time{}
}
