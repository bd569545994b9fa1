package domain

import "time"

// JobStatus is the execution state GitLab reports for a single job attempt.
type JobStatus string

const (
	StatusSuccess  JobStatus = "success"
	StatusFailed   JobStatus = "failed"
	StatusCanceled JobStatus = "canceled"
	StatusSkipped  JobStatus = "skipped"
	StatusManual   JobStatus = "manual"
	StatusRunning  JobStatus = "running"
	StatusPending  JobStatus = "pending"
)

// Project identifies the GitLab project being analyzed.
type Project struct {
	ID     int64
	Name   string
	WebURL string
}

// Pipeline is one CI run. Immutable once fetched.
type Pipeline struct {
	ID        int64
	Ref       string
	Status    string
	WebURL    string
	UpdatedAt time.Time
}

// JobExecution is a single attempt of a named job within a pipeline.
// Retried jobs appear as multiple executions sharing a name; IDs are
// assigned by GitLab in creation order, so ID order is attempt order.
type JobExecution struct {
	ID         int64
	Name       string
	Stage      string
	Status     JobStatus
	PipelineID int64
	Duration   time.Duration
}

// JobGroup is every execution of one job name within one pipeline,
// ordered ascending by execution ID. A group always has at least one member.
type JobGroup struct {
	PipelineID  int64
	PipelineRef string
	Name        string
	Executions  []JobExecution
}

// Statuses returns the ordered status sequence of the group's attempts.
func (g JobGroup) Statuses() []JobStatus {
	statuses := make([]JobStatus, len(g.Executions))
	for i, e := range g.Executions {
		statuses[i] = e.Status
	}
	return statuses
}

// Attempts returns the number of executions in the group.
func (g JobGroup) Attempts() int { return len(g.Executions) }

// Retries returns the number of retry attempts (executions beyond the first).
func (g JobGroup) Retries() int { return len(g.Executions) - 1 }

// Verdict is the reliability outcome assigned to a JobGroup.
type Verdict string

const (
	// VerdictCleanSuccess: the job succeeded without ever failing.
	VerdictCleanSuccess Verdict = "clean_success"
	// VerdictFlaky: the job failed at least once but eventually succeeded.
	VerdictFlaky Verdict = "flaky"
	// VerdictLegitimateFailure: every attempt failed (broken code, not flakiness).
	VerdictLegitimateFailure Verdict = "legitimate_failure"
	// VerdictOther: no success and no failure (canceled, skipped, manual, ...).
	VerdictOther Verdict = "other"
)
