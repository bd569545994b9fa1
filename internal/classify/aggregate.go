package classify

import (
	"sort"

	"github.com/waabox/flakewatch/internal/domain"
)

// JobNameStats accumulates verdict totals for one job name across pipelines.
type JobNameStats struct {
	// TotalGroups counts how many times this job ran (as a group of one or
	// more attempts) across all analyzed pipelines.
	TotalGroups        int     `json:"totalGroups"`
	CleanSuccesses     int     `json:"cleanSuccesses"`
	FlakyOccurrences   int     `json:"flakyOccurrences"`
	LegitimateFailures int     `json:"legitimateFailures"`
	OtherStatuses      int     `json:"otherStatuses"`
	TotalRetries       int     `json:"totalRetries"`
	FlakyRetries       int     `json:"flakyRetries"`
	LegitimateRetries  int     `json:"legitimateRetries"`
	FlakyPipelines     []int64 `json:"flakyPipelines,omitempty"`
}

// FlakinessRate is the proportion of this job's groups that were flaky.
func (s JobNameStats) FlakinessRate() float64 {
	if s.TotalGroups == 0 {
		return 0
	}
	return float64(s.FlakyOccurrences) / float64(s.TotalGroups)
}

// ReliabilityRate is clean successes over (clean successes + flaky groups).
// Legitimate failures and other outcomes are excluded from the denominator:
// they are code or scheduling problems, not reliability problems.
func (s JobNameStats) ReliabilityRate() float64 {
	denom := s.CleanSuccesses + s.FlakyOccurrences
	if denom == 0 {
		return 0
	}
	return float64(s.CleanSuccesses) / float64(denom)
}

// FlakyOccurrence records one flaky-classified group for drill-down
// reporting: which pipeline, which job, and the ordered status sequence.
type FlakyOccurrence struct {
	PipelineID  int64              `json:"pipelineId"`
	PipelineRef string             `json:"pipelineRef"`
	JobName     string             `json:"jobName"`
	Attempts    int                `json:"attempts"`
	Statuses    []domain.JobStatus `json:"statuses"`
}

// Stats folds classified outcomes into per-job-name and global totals.
// It is mutated only during the single-threaded reduction phase after the
// concurrent fan-out; the fold is commutative and associative, so the
// arbitrary completion order of fetch tasks cannot change the result.
type Stats struct {
	Jobs   map[string]*JobNameStats
	Flakes []FlakyOccurrence
}

// NewStats returns an empty accumulator.
func NewStats() *Stats {
	return &Stats{Jobs: make(map[string]*JobNameStats)}
}

// Add folds one classified group into the statistics.
func (s *Stats) Add(out Outcome) {
	js := s.Jobs[out.Group.Name]
	if js == nil {
		js = &JobNameStats{}
		s.Jobs[out.Group.Name] = js
	}

	js.TotalGroups++
	js.TotalRetries += out.Retries

	switch out.Verdict {
	case domain.VerdictCleanSuccess:
		js.CleanSuccesses++
	case domain.VerdictFlaky:
		js.FlakyOccurrences++
		js.FlakyRetries += out.Retries
		js.FlakyPipelines = append(js.FlakyPipelines, out.Group.PipelineID)
		s.Flakes = append(s.Flakes, FlakyOccurrence{
			PipelineID:  out.Group.PipelineID,
			PipelineRef: out.Group.PipelineRef,
			JobName:     out.Group.Name,
			Attempts:    out.Group.Attempts(),
			Statuses:    out.Group.Statuses(),
		})
	case domain.VerdictLegitimateFailure:
		js.LegitimateFailures++
		js.LegitimateRetries += out.Retries
	case domain.VerdictOther:
		js.OtherStatuses++
	}
}

// JobNames returns all job names in lexicographic order.
func (s *Stats) JobNames() []string {
	names := make([]string, 0, len(s.Jobs))
	for name := range s.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Totals holds the global counters across all job names.
type Totals struct {
	TotalGroups        int `json:"totalGroups"`
	CleanSuccesses     int `json:"cleanSuccesses"`
	FlakyOccurrences   int `json:"flakyOccurrences"`
	LegitimateFailures int `json:"legitimateFailures"`
	OtherStatuses      int `json:"otherStatuses"`
	TotalRetries       int `json:"totalRetries"`
	FlakyRetries       int `json:"flakyRetries"`
	LegitimateRetries  int `json:"legitimateRetries"`
}

// Totals sums the per-job-name statistics.
func (s *Stats) Totals() Totals {
	var t Totals
	for _, js := range s.Jobs {
		t.TotalGroups += js.TotalGroups
		t.CleanSuccesses += js.CleanSuccesses
		t.FlakyOccurrences += js.FlakyOccurrences
		t.LegitimateFailures += js.LegitimateFailures
		t.OtherStatuses += js.OtherStatuses
		t.TotalRetries += js.TotalRetries
		t.FlakyRetries += js.FlakyRetries
		t.LegitimateRetries += js.LegitimateRetries
	}
	return t
}

// FlakinessRate is the proportion of all groups that were flaky.
func (t Totals) FlakinessRate() float64 {
	if t.TotalGroups == 0 {
		return 0
	}
	return float64(t.FlakyOccurrences) / float64(t.TotalGroups)
}

// ReliabilityRate is clean successes over (clean successes + flaky groups).
// With an empty denominator there is nothing to hold against the jobs, so
// the rate is reported as 1.
func (t Totals) ReliabilityRate() float64 {
	denom := t.CleanSuccesses + t.FlakyOccurrences
	if denom == 0 {
		return 1
	}
	return float64(t.CleanSuccesses) / float64(denom)
}
