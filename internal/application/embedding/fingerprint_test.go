package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_StableAcrossContextOrder(t *testing.T) {
	a := map[string]any{}
	a["category"] = "Técnico"
	a["relevance"] = 0.8
	a["tags"] = []string{"cache", "performance"}
	a["source"] = map[string]any{"path": "/docs/a.md", "kind": "markdown"}

	b := map[string]any{}
	b["source"] = map[string]any{"kind": "markdown", "path": "/docs/a.md"}
	b["tags"] = []string{"cache", "performance"}
	b["relevance"] = 0.8
	b["category"] = "Técnico"

	assert.Equal(t, Fingerprint("cache layer notes", a), Fingerprint("cache layer notes", b))
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint("cache layer notes", map[string]any{"category": "Técnico"})

	tests := []struct {
		name  string
		text  string
		meta  map[string]any
		equal bool
	}{
		{"surrounding whitespace ignored", "  cache layer notes \n", map[string]any{"category": "Técnico"}, true},
		{"inner whitespace collapsed", "cache   layer\tnotes", map[string]any{"category": "Técnico"}, true},
		{"different value", "cache layer notes", map[string]any{"category": "Estratégico"}, false},
		{"missing context", "cache layer notes", nil, false},
		{"different text", "cache layer", map[string]any{"category": "Técnico"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(tt.text, tt.meta)
			if tt.equal {
				assert.Equal(t, base, got)
			} else {
				assert.NotEqual(t, base, got)
			}
		})
	}
}

func TestFingerprint_NilAndEmptyContextMatch(t *testing.T) {
	assert.Equal(t, Fingerprint("x", nil), Fingerprint("x", map[string]any{}))
}

func TestComposeInput(t *testing.T) {
	got := ComposeInput("  redis   tuning ", map[string]any{
		"tags":     []any{"cache", "latency"},
		"category": "Técnico",
	})
	assert.Equal(t, "redis tuning\n\ncategory: Técnico\ntags: cache, latency", got)

	assert.Equal(t, "plain", ComposeInput("plain", nil))
}
