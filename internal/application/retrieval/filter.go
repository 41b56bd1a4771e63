package retrieval

import (
	"time"

	"convergence-engine/internal/domain/entity"
)

// Filter 向量库过滤表达式
// must 中的条件全部满足；should 非空时至少满足 MinShould 个。
type Filter struct {
	Must      []Condition `json:"must,omitempty"`
	Should    []Condition `json:"should,omitempty"`
	MinShould *MinShould  `json:"min_should,omitempty"`
}

// MinShould should 组的最少命中数
type MinShould struct {
	MinShould int `json:"min_should"`
}

// Condition 单个过滤子句，Match 与 Range 二选一
type Condition struct {
	Key   string `json:"key"`
	Match *Match `json:"match,omitempty"`
	Range *Range `json:"range,omitempty"`
}

// Match 精确匹配
type Match struct {
	Value any `json:"value"`
}

// Range 闭区间数值范围
type Range struct {
	Gte *float64 `json:"gte,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
}

// IsEmpty 空过滤表示匹配全部
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.Should) == 0)
}

// FilterFields 维度到 payload 字段的映射
type FilterFields struct {
	Temporal     string `mapstructure:"temporal"`
	Keywords     string `mapstructure:"keywords"`
	Categories   string `mapstructure:"categories"`
	AnalysisType string `mapstructure:"analysis_type"`
}

// DefaultFilterFields 默认字段名
func DefaultFilterFields() FilterFields {
	return FilterFields{
		Temporal:     "timestamp",
		Keywords:     "keywords",
		Categories:   "categories",
		AnalysisType: "analysisType",
	}
}

func (f FilterFields) withDefaults() FilterFields {
	def := DefaultFilterFields()
	if f.Temporal == "" {
		f.Temporal = def.Temporal
	}
	if f.Keywords == "" {
		f.Keywords = def.Keywords
	}
	if f.Categories == "" {
		f.Categories = def.Categories
	}
	if f.AnalysisType == "" {
		f.AnalysisType = def.AnalysisType
	}
	return f
}

const endOfDay = 24*time.Hour - time.Second

// BuildFilter 将查询维度转换为过滤表达式，维度为空时返回 nil
//
// 时间范围按 unix 秒比较；结束时间为整天（零点）时包含当天全部时间。
func BuildFilter(dims entity.FilterDimensions, fields FilterFields) *Filter {
	dims = dims.Normalize()
	fields = fields.withDefaults()

	f := &Filter{}
	if r := dims.Temporal; r != nil {
		rng := &Range{}
		if !r.From.IsZero() {
			rng.Gte = unixSeconds(r.From)
		}
		if !r.To.IsZero() {
			to := r.To
			if to.Equal(to.Truncate(24 * time.Hour)) {
				to = to.Add(endOfDay)
			}
			rng.Lte = unixSeconds(to)
		}
		f.Must = append(f.Must, Condition{Key: fields.Temporal, Range: rng})
	}
	if dims.AnalysisType != "" {
		f.Must = append(f.Must, Condition{Key: fields.AnalysisType, Match: &Match{Value: dims.AnalysisType}})
	}
	for _, kw := range dims.SemanticKeywords {
		f.Should = append(f.Should, Condition{Key: fields.Keywords, Match: &Match{Value: kw}})
	}
	for _, c := range dims.Categories {
		f.Should = append(f.Should, Condition{Key: fields.Categories, Match: &Match{Value: c}})
	}
	if len(f.Should) > 0 {
		f.MinShould = &MinShould{MinShould: 1}
	}

	if f.IsEmpty() {
		return nil
	}
	return f
}

func unixSeconds(t time.Time) *float64 {
	v := float64(t.Unix())
	return &v
}
