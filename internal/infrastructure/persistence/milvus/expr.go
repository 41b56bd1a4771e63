package milvus

import (
	"fmt"
	"strconv"
	"strings"

	"convergence-engine/internal/application/retrieval"
	apperrors "convergence-engine/pkg/errors"
)

// maxShouldCombinations min_should>1 时展开组合的上限
const maxShouldCombinations = 256

// buildExpr 将过滤器翻译为作用于 JSON payload 字段的布尔表达式
func buildExpr(field string, f *retrieval.Filter) (string, error) {
	if f.IsEmpty() {
		return "", nil
	}

	var clauses []string
	for _, cond := range f.Must {
		expr, err := conditionExpr(field, cond)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, expr)
	}

	if len(f.Should) > 0 {
		should := make([]string, 0, len(f.Should))
		for _, cond := range f.Should {
			expr, err := conditionExpr(field, cond)
			if err != nil {
				return "", err
			}
			should = append(should, expr)
		}
		minShould := 1
		if f.MinShould != nil && f.MinShould.MinShould > 1 {
			minShould = f.MinShould.MinShould
		}
		expr, err := atLeast(should, minShould)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, expr)
	}

	return strings.Join(clauses, " && "), nil
}

// atLeast 至少 n 个子句成立
func atLeast(exprs []string, n int) (string, error) {
	if n > len(exprs) {
		return "", apperrors.InvalidInput("min_should %d exceeds %d should conditions", n, len(exprs))
	}
	if n <= 1 {
		return "(" + strings.Join(exprs, " || ") + ")", nil
	}

	var groups []string
	var walk func(start int, picked []string) error
	walk = func(start int, picked []string) error {
		if len(picked) == n {
			if len(groups) >= maxShouldCombinations {
				return apperrors.InvalidInput("min_should %d over %d conditions is too broad", n, len(exprs))
			}
			groups = append(groups, "("+strings.Join(picked, " && ")+")")
			return nil
		}
		for i := start; i <= len(exprs)-(n-len(picked)); i++ {
			if err := walk(i+1, append(picked, exprs[i])); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0, make([]string, 0, n)); err != nil {
		return "", err
	}
	return "(" + strings.Join(groups, " || ") + ")", nil
}

func conditionExpr(field string, cond retrieval.Condition) (string, error) {
	path := jsonPath(field, cond.Key)
	switch {
	case cond.Match != nil:
		lit, err := literal(cond.Match.Value)
		if err != nil {
			return "", err
		}
		// 标量或数组字段都视为命中
		return fmt.Sprintf("(json_contains(%s, %s) || %s == %s)", path, lit, path, lit), nil
	case cond.Range != nil:
		var parts []string
		if cond.Range.Gte != nil {
			parts = append(parts, path+" >= "+formatNumber(*cond.Range.Gte))
		}
		if cond.Range.Lte != nil {
			parts = append(parts, path+" <= "+formatNumber(*cond.Range.Lte))
		}
		if len(parts) == 0 {
			return "", apperrors.InvalidInput("range condition on %q has no bounds", cond.Key)
		}
		return "(" + strings.Join(parts, " && ") + ")", nil
	}
	return "", apperrors.InvalidInput("condition on %q has neither match nor range", cond.Key)
}

// jsonPath metadata.category -> payload["metadata"]["category"]
func jsonPath(field, key string) string {
	var b strings.Builder
	b.WriteString(field)
	for _, part := range strings.Split(key, ".") {
		b.WriteString("[")
		b.WriteString(strconv.Quote(part))
		b.WriteString("]")
	}
	return b.String()
}

func literal(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return formatNumber(x), nil
	}
	return "", apperrors.InvalidInput("unsupported match value type %T", v)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
