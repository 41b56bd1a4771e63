package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// NormalizeText 去除首尾空白并将连续空白折叠为单个空格
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Fingerprint 计算 (规范化文本, 按键排序的上下文) 的稳定哈希
func Fingerprint(text string, meta map[string]any) string {
	h := sha256.New()
	h.Write([]byte(NormalizeText(text)))
	h.Write([]byte{0})
	for _, k := range sortedKeys(meta) {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(encodeValue(meta[k])))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComposeInput 将上下文附加到文本之后，作为向量化的实际输入
func ComposeInput(text string, meta map[string]any) string {
	base := NormalizeText(text)
	if len(meta) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")
	for i, k := range sortedKeys(meta) {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(displayValue(meta[k]))
	}
	return b.String()
}

func sortedKeys(meta map[string]any) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// encodeValue JSON 编码（嵌套 map 的键同样有序）
func encodeValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func displayValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ", ")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, displayValue(item))
		}
		return strings.Join(parts, ", ")
	case nil:
		return ""
	default:
		return encodeValue(val)
	}
}
