package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convergence-engine/internal/domain/entity"
	apperrors "convergence-engine/pkg/errors"
)

func TestRenderNavigation(t *testing.T) {
	var buf bytes.Buffer
	res := &entity.NavigationResult{
		Intent:              "cache strategy",
		Dimensions:          entity.FilterDimensions{Categories: []string{"Técnico"}},
		DocumentsConsidered: 10,
		DocumentsMatched:    2,
		ChunksMatched:       5,
		ReductionPercent:    80,
		Ranked: []entity.DocumentConvergence{
			{DocumentID: "d1", FileName: "cache.md", ChunkCount: 3, AverageScore: 0.9, KeywordOverlapRatio: 0.5, Density: 0.71},
			{DocumentID: "d2", ChunkCount: 2, AverageScore: 0.8, Density: 0.52},
		},
		EvidencePool: []string{"c1", "c2"},
	}

	require.NoError(t, renderNavigation(&buf, res))
	out := buf.String()
	assert.Contains(t, out, "Intent:     cache strategy")
	assert.Contains(t, out, "categories=Técnico")
	assert.Contains(t, out, "5 chunks in 2 of 10 documents")
	assert.Contains(t, out, "80.0%")
	assert.Contains(t, out, "cache.md")
	assert.Contains(t, out, "d2", "document id stands in for a missing file name")
	assert.Contains(t, out, "Evidence pool (2 chunks): c1, c2")
}

func TestRenderNavigation_NoConvergence(t *testing.T) {
	var buf bytes.Buffer
	res := &entity.NavigationResult{Intent: "x", NoConvergence: true, FromCache: true, DegradedReason: "vector store unavailable"}

	require.NoError(t, renderNavigation(&buf, res))
	assert.Contains(t, buf.String(), "No convergence found.")
	assert.Contains(t, buf.String(), "cached result")
	assert.Contains(t, buf.String(), "Degraded:   vector store unavailable")
}

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	report := &entity.CorpusReport{
		Collection:     &entity.CollectionInfo{Name: "knowledge", Status: "green", PointsCount: 4},
		PointsAnalyzed: 4,
		Truncated:      true,
		UniqueFiles:    []string{"a.md", "b.md"},
		Categories:     []entity.Distribution{{Value: "Técnico", Count: 2, Percent: 50}},
		ConvergenceScores: entity.SummaryStats{
			Count: 4, Mean: 12.5, Median: 12.5, StdDev: 9.5,
		},
		ScoreBuckets:          []entity.ScoreBucket{{Range: "0-5", Count: 1, Average: 2}},
		ChainSizeDistribution: map[int]int{3: 1, 1: 2},
		Quality:               entity.Coverage{WithFile: 4},
	}

	require.NoError(t, renderReport(&buf, report))
	out := buf.String()
	assert.Contains(t, out, "Collection: knowledge (green, 4 points)")
	assert.Contains(t, out, "(truncated)")
	assert.Contains(t, out, "Técnico")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "mean 12.50")
	assert.Contains(t, out, "0-5")
	assert.Contains(t, out, "with file")

	chains := out[strings.Index(out, "CHAIN SIZES"):]
	assert.Less(t, strings.Index(chains, "\n  1 "), strings.Index(chains, "\n  3 "), "chain sizes ascend")
}

func TestDimensionsFromFlags(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		addDimensionFlags(cmd)
		return cmd
	}

	cmd := newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--from", "2025-01-01", "--keywords", "cache, latency", "--categories", "Técnico", "--analysis-type", " deep ",
	}))
	dims, err := dimensionsFromFlags(cmd)
	require.NoError(t, err)
	require.NotNil(t, dims.Temporal)
	assert.Equal(t, []string{"cache", "latency"}, dims.SemanticKeywords)
	assert.Equal(t, []string{"Técnico"}, dims.Categories)
	assert.Equal(t, "deep", dims.AnalysisType)

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--from", "yesterday"}))
	_, err = dimensionsFromFlags(cmd)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"navigate", "analyze", "collection", "sweep"} {
		assert.True(t, names[want], want)
	}
}
