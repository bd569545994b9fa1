// Package classify turns raw job execution history into reliability
// verdicts and aggregate statistics.
package classify

import (
	"sort"

	"github.com/waabox/flakewatch/internal/domain"
)

// Outcome is the classification of one JobGroup, the sole unit handed to
// the aggregator.
type Outcome struct {
	Group   domain.JobGroup
	Verdict domain.Verdict
	Retries int
	// Anomaly is non-empty when the status pattern matched an unexpected
	// shape (multiple attempts all successful, or a pattern outside the
	// decision table). Surfaced for observability, never changes the verdict.
	Anomaly string
}

// Group partitions one pipeline's executions by job name. Each group's
// executions are sorted ascending by ID: IDs are assigned in creation
// order, so ID order is the chronological order of attempts (wall-clock
// timestamps are not reliably comparable across retries). Groups are
// returned sorted by job name for deterministic iteration.
func Group(pipeline domain.Pipeline, jobs []domain.JobExecution) []domain.JobGroup {
	byName := make(map[string][]domain.JobExecution)
	for _, j := range jobs {
		byName[j.Name] = append(byName[j.Name], j)
	}

	groups := make([]domain.JobGroup, 0, len(byName))
	for name, execs := range byName {
		sort.Slice(execs, func(i, j int) bool { return execs[i].ID < execs[j].ID })
		groups = append(groups, domain.JobGroup{
			PipelineID:  pipeline.ID,
			PipelineRef: pipeline.Ref,
			Name:        name,
			Executions:  execs,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// Classify assigns exactly one verdict to a group. Rule order matters for
// the tie-breaks; the decision table is:
//
//  1. single attempt, success            -> CleanSuccess
//  2. some failed, some success          -> Flaky
//  3. some failed, none success          -> LegitimateFailure
//  4. none failed, none success          -> Other
//  5. multiple attempts, all successful  -> CleanSuccess, flagged as anomaly
//  6. anything else                      -> Other, flagged as anomaly
func Classify(group domain.JobGroup) Outcome {
	statuses := group.Statuses()
	var hasSuccess, hasFailure bool
	for _, s := range statuses {
		switch s {
		case domain.StatusSuccess:
			hasSuccess = true
		case domain.StatusFailed:
			hasFailure = true
		}
	}

	out := Outcome{Group: group, Retries: group.Retries()}

	switch {
	case group.Attempts() == 1 && statuses[0] == domain.StatusSuccess:
		out.Verdict = domain.VerdictCleanSuccess

	case hasFailure && hasSuccess:
		out.Verdict = domain.VerdictFlaky

	case hasFailure:
		out.Verdict = domain.VerdictLegitimateFailure

	case !hasSuccess:
		out.Verdict = domain.VerdictOther

	case group.Attempts() > 1:
		// Multiple attempts, all successful. Should not happen with CI
		// retry rules that only rerun failures, but GitLab allows manual
		// reruns of green jobs. Counted as CleanSuccess; this conflates
		// "re-run but never failed" with "first-try success", flagged for
		// review rather than reinterpreted.
		out.Verdict = domain.VerdictCleanSuccess
		out.Anomaly = "multiple attempts all succeeded"

	default:
		out.Verdict = domain.VerdictOther
		out.Anomaly = "unexpected status pattern"
	}

	return out
}
