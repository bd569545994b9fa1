package domain

import (
	"context"
	"time"
)

// JobSource is the port interface the analysis layer consumes. The domain
// does not know about GitLab or HTTP; the gitlab package provides the
// production implementation and tests provide fakes.
type JobSource interface {
	// GetProject resolves project metadata (name, URL) for report labeling.
	GetProject(ctx context.Context, projectID string) (Project, error)

	// ListPipelines returns every pipeline updated after the given time.
	ListPipelines(ctx context.Context, projectID string, updatedAfter time.Time) ([]Pipeline, error)

	// ListPipelineJobs returns every job execution of one pipeline,
	// including retried (superseded) attempts.
	ListPipelineJobs(ctx context.Context, projectID string, pipelineID int64) ([]JobExecution, error)
}
