package analyze_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waabox/flakewatch/internal/analyze"
	"github.com/waabox/flakewatch/internal/domain"
)

type fakeSource struct {
	project      domain.Project
	projectErr   error
	pipelines    []domain.Pipeline
	pipelinesErr error
	jobs         map[int64][]domain.JobExecution
	jobsErr      map[int64]error
}

func (f *fakeSource) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	return f.project, f.projectErr
}

func (f *fakeSource) ListPipelines(ctx context.Context, projectID string, updatedAfter time.Time) ([]domain.Pipeline, error) {
	return f.pipelines, f.pipelinesErr
}

func (f *fakeSource) ListPipelineJobs(ctx context.Context, projectID string, pipelineID int64) ([]domain.JobExecution, error) {
	if err := f.jobsErr[pipelineID]; err != nil {
		return nil, err
	}
	return f.jobs[pipelineID], nil
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func job(id int64, pipelineID int64, name string, status domain.JobStatus) domain.JobExecution {
	return domain.JobExecution{ID: id, Name: name, Status: status, PipelineID: pipelineID}
}

func TestRun_AggregatesAcrossPipelines(t *testing.T) {
	src := &fakeSource{
		project: domain.Project{ID: 42, Name: "My App"},
		pipelines: []domain.Pipeline{
			{ID: 101, Ref: "main"},
			{ID: 102, Ref: "develop"},
		},
		jobs: map[int64][]domain.JobExecution{
			101: {
				job(301, 101, "unit-tests", domain.StatusFailed),
				job(302, 101, "unit-tests", domain.StatusFailed),
				job(303, 101, "unit-tests", domain.StatusSuccess),
				job(304, 101, "lint", domain.StatusSuccess),
			},
			102: {
				job(401, 102, "lint", domain.StatusFailed),
			},
		},
	}

	res, err := analyze.Run(context.Background(), src, analyze.Config{
		ProjectID:    "42",
		UpdatedAfter: time.Now().AddDate(0, 0, -30),
		Workers:      2,
		Log:          quietLogger(),
	})
	require.NoError(t, err)

	assert.Equal(t, "My App", res.Project.Name)
	assert.Equal(t, 2, res.PipelineCount)
	assert.Empty(t, res.Skipped)
	require.NoError(t, res.SkippedError())

	totals := res.Stats.Totals()
	assert.Equal(t, 3, totals.TotalGroups)
	assert.Equal(t, 1, totals.FlakyOccurrences)
	assert.Equal(t, 1, totals.LegitimateFailures)
	assert.Equal(t, 1, totals.CleanSuccesses)

	require.Len(t, res.Stats.Flakes, 1)
	assert.Equal(t, "unit-tests", res.Stats.Flakes[0].JobName)
	assert.Equal(t, 3, res.Stats.Flakes[0].Attempts)
}

func TestRun_FailedPipelineIsSkippedNotFatal(t *testing.T) {
	src := &fakeSource{
		project: domain.Project{ID: 42, Name: "My App"},
		pipelines: []domain.Pipeline{
			{ID: 101, Ref: "main"},
			{ID: 102, Ref: "main"},
			{ID: 103, Ref: "main"},
		},
		jobs: map[int64][]domain.JobExecution{
			101: {job(301, 101, "build", domain.StatusSuccess)},
			103: {job(501, 103, "build", domain.StatusSuccess)},
		},
		jobsErr: map[int64]error{
			102: fmt.Errorf("giving up on https://gitlab.example after 3 attempts: 502"),
		},
	}

	res, err := analyze.Run(context.Background(), src, analyze.Config{
		ProjectID: "42",
		Workers:   2,
		Log:       quietLogger(),
	})
	require.NoError(t, err)

	// Other pipelines' results are present and correct.
	totals := res.Stats.Totals()
	assert.Equal(t, 2, totals.TotalGroups)
	assert.Equal(t, 2, totals.CleanSuccesses)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, int64(102), res.Skipped[0].PipelineID)

	skippedErr := res.SkippedError()
	require.Error(t, skippedErr)
	assert.Contains(t, skippedErr.Error(), "pipeline 102")
}

func TestRun_ProjectLookupFailureIsBatchFatal(t *testing.T) {
	src := &fakeSource{projectErr: domain.ErrNotFound}

	_, err := analyze.Run(context.Background(), src, analyze.Config{
		ProjectID: "missing",
		Log:       quietLogger(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRun_PipelineListingFailureIsBatchFatal(t *testing.T) {
	src := &fakeSource{
		project:      domain.Project{ID: 42, Name: "My App"},
		pipelinesErr: fmt.Errorf("giving up after 3 attempts"),
	}

	_, err := analyze.Run(context.Background(), src, analyze.Config{
		ProjectID: "42",
		Log:       quietLogger(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing pipelines")
}

func TestRun_NoPipelinesYieldsEmptyResult(t *testing.T) {
	src := &fakeSource{project: domain.Project{ID: 42, Name: "My App"}}

	res, err := analyze.Run(context.Background(), src, analyze.Config{
		ProjectID: "42",
		Log:       quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.PipelineCount)
	assert.Equal(t, 0, res.Stats.Totals().TotalGroups)
}
