package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateRange 闭区间时间范围，零值端点表示该侧不设限
type DateRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// IsZero 两端均未设置
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// FilterDimensions 查询维度（调用方提供，单次查询内不可变）
// 空轴表示该维度不设约束，而不是"无匹配"。
type FilterDimensions struct {
	Temporal         *DateRange `json:"temporal,omitempty"`
	SemanticKeywords []string   `json:"semantic_keywords,omitempty"`
	Categories       []string   `json:"categories,omitempty"`
	AnalysisType     string     `json:"analysis_type,omitempty"`
}

// Normalize 去除空白与重复项并排序，返回新的维度对象
func (d FilterDimensions) Normalize() FilterDimensions {
	out := FilterDimensions{
		SemanticKeywords: normalizeSet(d.SemanticKeywords),
		Categories:       normalizeSet(d.Categories),
		AnalysisType:     strings.TrimSpace(d.AnalysisType),
	}
	if d.Temporal != nil && !d.Temporal.IsZero() {
		r := DateRange{From: d.Temporal.From.UTC(), To: d.Temporal.To.UTC()}
		if d.Temporal.From.IsZero() {
			r.From = time.Time{}
		}
		if d.Temporal.To.IsZero() {
			r.To = time.Time{}
		}
		out.Temporal = &r
	}
	return out
}

// IsEmpty 所有维度均未设置
func (d FilterDimensions) IsEmpty() bool {
	n := d.Normalize()
	return n.Temporal == nil && len(n.SemanticKeywords) == 0 && len(n.Categories) == 0 && n.AnalysisType == ""
}

// Validate 校验维度合法性
func (d FilterDimensions) Validate() error {
	if d.Temporal != nil && !d.Temporal.From.IsZero() && !d.Temporal.To.IsZero() &&
		d.Temporal.From.After(d.Temporal.To) {
		return fmt.Errorf("temporal range is inverted: from %s is after to %s",
			d.Temporal.From.Format(time.RFC3339), d.Temporal.To.Format(time.RFC3339))
	}
	return nil
}

// Hash 维度的稳定哈希，用于降级缓存键
func (d FilterDimensions) Hash() string {
	data, _ := json.Marshal(d.Normalize())
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Summary 便于日志与错误诊断的维度摘要
func (d FilterDimensions) Summary() string {
	n := d.Normalize()
	parts := make([]string, 0, 4)
	if n.Temporal != nil {
		parts = append(parts, fmt.Sprintf("temporal=[%s..%s]", formatBound(n.Temporal.From), formatBound(n.Temporal.To)))
	}
	if len(n.SemanticKeywords) > 0 {
		parts = append(parts, "keywords="+strings.Join(n.SemanticKeywords, "|"))
	}
	if len(n.Categories) > 0 {
		parts = append(parts, "categories="+strings.Join(n.Categories, "|"))
	}
	if n.AnalysisType != "" {
		parts = append(parts, "analysis_type="+n.AnalysisType)
	}
	if len(parts) == 0 {
		return "unconstrained"
	}
	return strings.Join(parts, " ")
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.Format("2006-01-02")
}

func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

const dateOnly = "2006-01-02"

// ParseDateRange 解析 RFC3339 或 YYYY-MM-DD 格式的端点，空字符串表示不设限
func ParseDateRange(from, to string) (*DateRange, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" && to == "" {
		return nil, nil
	}
	var r DateRange
	if from != "" {
		t, err := parseBound(from)
		if err != nil {
			return nil, fmt.Errorf("invalid from date %q: %w", from, err)
		}
		r.From = t
	}
	if to != "" {
		t, err := parseBound(to)
		if err != nil {
			return nil, fmt.Errorf("invalid to date %q: %w", to, err)
		}
		r.To = t
	}
	return &r, nil
}

func parseBound(s string) (time.Time, error) {
	if t, err := time.Parse(dateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
