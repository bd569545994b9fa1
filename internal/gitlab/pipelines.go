package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/waabox/flakewatch/internal/domain"
)

// GetProject returns project metadata for the given ID or "group/name" path.
func (c *Client) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	projectURL := fmt.Sprintf("%s%s/projects/%s", c.baseURL, apiPrefix, url.PathEscape(projectID))
	var p gitLabProject
	if _, err := c.get(ctx, projectURL, nil, &p); err != nil {
		return domain.Project{}, err
	}
	return domain.Project{ID: p.ID, Name: p.Name, WebURL: p.WebURL}, nil
}

// ListPipelines returns every pipeline of the project updated after the
// given time, following pagination to the end.
func (c *Client) ListPipelines(ctx context.Context, projectID string, updatedAfter time.Time) ([]domain.Pipeline, error) {
	params := url.Values{
		"updated_after": {updatedAfter.Format(time.RFC3339)},
		"per_page":      {strconv.Itoa(c.perPage)},
	}
	path := fmt.Sprintf("/projects/%s/pipelines", url.PathEscape(projectID))
	runs, err := getAll[gitLabPipeline](ctx, c, path, params)
	if err != nil {
		return nil, err
	}
	pipelines := make([]domain.Pipeline, len(runs))
	for i, r := range runs {
		pipelines[i] = r.toPipeline()
	}
	return pipelines, nil
}

// ListPipelineJobs returns every job execution of one pipeline, including
// retried (superseded) attempts, so the classifier sees the full attempt
// history rather than just the latest run of each job.
func (c *Client) ListPipelineJobs(ctx context.Context, projectID string, pipelineID int64) ([]domain.JobExecution, error) {
	params := url.Values{
		"per_page":        {strconv.Itoa(c.perPage)},
		"include_retried": {"true"},
	}
	path := fmt.Sprintf("/projects/%s/pipelines/%d/jobs", url.PathEscape(projectID), pipelineID)
	rawJobs, err := getAll[gitLabJob](ctx, c, path, params)
	if err != nil {
		return nil, err
	}
	jobs := make([]domain.JobExecution, len(rawJobs))
	for i, j := range rawJobs {
		jobs[i] = j.toJob(pipelineID)
	}
	return jobs, nil
}

type gitLabProject struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"web_url"`
}

type gitLabPipeline struct {
	ID        int64  `json:"id"`
	Ref       string `json:"ref"`
	Status    string `json:"status"`
	WebURL    string `json:"web_url"`
	UpdatedAt string `json:"updated_at"`
}

func (r gitLabPipeline) toPipeline() domain.Pipeline {
	updated, _ := time.Parse(time.RFC3339, r.UpdatedAt)
	return domain.Pipeline{
		ID:        r.ID,
		Ref:       r.Ref,
		Status:    r.Status,
		WebURL:    r.WebURL,
		UpdatedAt: updated,
	}
}

type gitLabJob struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Stage    string  `json:"stage"`
	Status   string  `json:"status"`
	Duration float64 `json:"duration"`
	Pipeline struct {
		ID int64 `json:"id"`
	} `json:"pipeline"`
}

func (j gitLabJob) toJob(pipelineID int64) domain.JobExecution {
	if j.Pipeline.ID != 0 {
		pipelineID = j.Pipeline.ID
	}
	return domain.JobExecution{
		ID:         j.ID,
		Name:       j.Name,
		Stage:      j.Stage,
		Status:     domain.JobStatus(j.Status),
		PipelineID: pipelineID,
		Duration:   time.Duration(j.Duration * float64(time.Second)),
	}
}
