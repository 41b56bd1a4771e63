package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"convergence-engine/internal/domain/entity"
)

func renderNavigation(w io.Writer, res *entity.NavigationResult) error {
	fmt.Fprintf(w, "Intent:     %s\n", res.Intent)
	if summary := res.Dimensions.Summary(); summary != "" {
		fmt.Fprintf(w, "Dimensions: %s\n", summary)
	}
	fmt.Fprintf(w, "Matched:    %d chunks in %d of %d documents\n",
		res.ChunksMatched, res.DocumentsMatched, res.DocumentsConsidered)
	fmt.Fprintf(w, "Reduction:  %.1f%%\n", res.ReductionPercent)
	if res.FromCache {
		fmt.Fprintln(w, "Source:     cached result (vector store unavailable)")
	}
	if res.DegradedReason != "" {
		fmt.Fprintf(w, "Degraded:   %s\n", res.DegradedReason)
	}

	if res.NoConvergence || len(res.Ranked) == 0 {
		fmt.Fprintln(w, "\nNo convergence found.")
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDOCUMENT\tCHUNKS\tAVG SCORE\tKEYWORDS\tDENSITY")
	for i, d := range res.Ranked {
		name := d.FileName
		if name == "" {
			name = d.DocumentID
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.3f\t%.2f\t%.3f\n",
			i+1, name, d.ChunkCount, d.AverageScore, d.KeywordOverlapRatio, d.Density)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(res.EvidencePool) > 0 {
		fmt.Fprintf(w, "\nEvidence pool (%d chunks): %s\n", len(res.EvidencePool), strings.Join(res.EvidencePool, ", "))
	}
	return nil
}

func renderReport(w io.Writer, r *entity.CorpusReport) error {
	if r.Collection != nil {
		fmt.Fprintf(w, "Collection: %s (%s, %d points)\n", r.Collection.Name, r.Collection.Status, r.Collection.PointsCount)
	}
	fmt.Fprintf(w, "Analyzed:   %d points", r.PointsAnalyzed)
	if r.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintf(w, "\nFiles:      %d\n", len(r.UniqueFiles))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	section := func(title string, dist []entity.Distribution) {
		if len(dist) == 0 {
			return
		}
		fmt.Fprintf(tw, "\n%s\t\t\n", title)
		for _, d := range dist {
			fmt.Fprintf(tw, "  %s\t%d\t%.1f%%\n", d.Value, d.Count, d.Percent)
		}
	}
	section("CATEGORIES", r.Categories)
	section("ANALYSIS TYPES", r.AnalysisTypes)
	section("ENRICHMENT", r.EnrichmentLevels)

	fmt.Fprintf(tw, "\nSCORES\t\t\n")
	s := r.ConvergenceScores
	fmt.Fprintf(tw, "  mean %.2f\tmedian %.2f\tstd %.2f\n", s.Mean, s.Median, s.StdDev)
	fmt.Fprintf(tw, "  min %.2f\tmax %.2f\tn %d\n", s.Min, s.Max, s.Count)
	for _, b := range r.ScoreBuckets {
		fmt.Fprintf(tw, "  %s\t%d\tavg %.2f\n", b.Range, b.Count, b.Average)
	}

	if len(r.ChainSizeDistribution) > 0 {
		fmt.Fprintf(tw, "\nCHAIN SIZES\t\t\n")
		sizes := make([]int, 0, len(r.ChainSizeDistribution))
		for size := range r.ChainSizeDistribution {
			sizes = append(sizes, size)
		}
		sort.Ints(sizes)
		for _, size := range sizes {
			fmt.Fprintf(tw, "  %d\t%d\t\n", size, r.ChainSizeDistribution[size])
		}
	}

	q := r.Quality
	fmt.Fprintf(tw, "\nQUALITY\t\t\n")
	fmt.Fprintf(tw, "  with file\t%d\t\n  with categories\t%d\t\n  with analysis type\t%d\t\n  with chains\t%d\t\n",
		q.WithFile, q.WithCategories, q.WithAnalysisType, q.WithChains)
	return tw.Flush()
}
