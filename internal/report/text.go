// Package report renders an analysis result as a plain-text or JSON report.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/waabox/flakewatch/internal/analyze"
)

const sectionWidth = 100

func sectionHeader(w io.Writer, title string) {
	rule := strings.Repeat("=", sectionWidth)
	fmt.Fprintf(w, "\n%s\n%s\n%s\n\n", rule, title, rule)
}

func pct(rate float64) string {
	return fmt.Sprintf("%.2f%%", rate*100)
}

// WriteText renders the full text report: summary, per-job table, retry
// breakdown, and the flaky-occurrence drill-down.
func WriteText(w io.Writer, res *analyze.Result, generatedAt time.Time) error {
	fmt.Fprintf(w, "# Flakiness analysis for %s (ID: %d)\n", res.Project.Name, res.Project.ID)
	fmt.Fprintf(w, "# Generated on: %s\n", generatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "# Analysis window: pipelines updated since %s\n", res.UpdatedAfter.Format("2006-01-02"))
	fmt.Fprintf(w, "# Pipelines analyzed: %d\n", res.PipelineCount)

	totals := res.Stats.Totals()

	sectionHeader(w, "OVERALL SUMMARY")
	fmt.Fprintf(w, "Total job groups analyzed: %d\n", totals.TotalGroups)
	if totals.TotalGroups > 0 {
		frac := func(n int) string {
			return fmt.Sprintf("%d (%s)", n, pct(float64(n)/float64(totals.TotalGroups)))
		}
		fmt.Fprintf(w, "Clean successes:      %s\n", frac(totals.CleanSuccesses))
		fmt.Fprintf(w, "Flaky occurrences:    %s\n", frac(totals.FlakyOccurrences))
		fmt.Fprintf(w, "Legitimate failures:  %s\n", frac(totals.LegitimateFailures))
		fmt.Fprintf(w, "Other outcomes:       %s\n", frac(totals.OtherStatuses))
		fmt.Fprintf(w, "\nFLAKINESS RATE:   %s\n", pct(totals.FlakinessRate()))
		fmt.Fprintf(w, "RELIABILITY RATE: %s (legitimate failures excluded)\n", pct(totals.ReliabilityRate()))
	}

	sectionHeader(w, "JOB-BY-JOB ANALYSIS")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Job Name\tRuns\tClean\tFlaky\tBad Code\tOther\tFlakiness\tReliability")
	for _, name := range res.Stats.JobNames() {
		js := res.Stats.Jobs[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			name, js.TotalGroups, js.CleanSuccesses, js.FlakyOccurrences,
			js.LegitimateFailures, js.OtherStatuses,
			pct(js.FlakinessRate()), pct(js.ReliabilityRate()))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("rendering job table: %w", err)
	}

	sectionHeader(w, "RETRY ATTEMPTS BREAKDOWN")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Job Name\tTotal Retries\tFlaky Retries\tBad Code Retries")
	for _, name := range res.Stats.JobNames() {
		js := res.Stats.Jobs[name]
		if js.TotalRetries == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", name, js.TotalRetries, js.FlakyRetries, js.LegitimateRetries)
	}
	fmt.Fprintf(tw, "TOTALS\t%d\t%d\t%d\n", totals.TotalRetries, totals.FlakyRetries, totals.LegitimateRetries)
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("rendering retry table: %w", err)
	}

	if len(res.Stats.Flakes) > 0 {
		sectionHeader(w, "FLAKY OCCURRENCES - pipelines where jobs failed then succeeded on retry")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Pipeline\tBranch/Ref\tJob Name\tAttempts\tStatus Pattern")
		for _, f := range res.Stats.Flakes {
			statuses := make([]string, len(f.Statuses))
			for i, s := range f.Statuses {
				statuses[i] = string(s)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
				f.PipelineID, f.PipelineRef, f.JobName, f.Attempts, strings.Join(statuses, " -> "))
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("rendering flaky table: %w", err)
		}

		if res.Project.WebURL != "" {
			fmt.Fprintln(w, "\nInvestigate these pipelines to understand the root cause:")
			for _, f := range res.Stats.Flakes {
				fmt.Fprintf(w, "  - %s/-/pipelines/%d\n", res.Project.WebURL, f.PipelineID)
			}
		}
	}

	if len(res.Skipped) > 0 {
		sectionHeader(w, "SKIPPED PIPELINES - excluded from the statistics above")
		for _, s := range res.Skipped {
			fmt.Fprintf(w, "  pipeline %d: %v\n", s.PipelineID, s.Err)
		}
	}

	return nil
}
