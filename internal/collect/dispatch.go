// Package collect fans out per-pipeline job fetches across a bounded worker
// pool. Every input pipeline yields exactly one result, success or failure;
// a single pipeline failing never aborts the batch.
package collect

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/waabox/flakewatch/internal/domain"
)

const defaultWorkers = 8

// Result is the outcome of collecting one pipeline's jobs. Exactly one of
// Jobs and Err is meaningful.
type Result struct {
	Pipeline domain.Pipeline
	Jobs     []domain.JobExecution
	Err      error
}

// progressInterval controls how often completion progress is logged.
const progressInterval = 10

// Jobs fetches the full job history of every pipeline, running at most
// workers fetches concurrently. The returned slice has one entry per input
// pipeline, in input order. Individual fetch failures are recorded in the
// corresponding Result and do not cancel other in-flight or queued fetches;
// Jobs returns only after every task has completed.
func Jobs(ctx context.Context, src domain.JobSource, projectID string, pipelines []domain.Pipeline, workers int, log logrus.FieldLogger) []Result {
	if workers <= 0 {
		workers = defaultWorkers
	}

	log.WithFields(logrus.Fields{
		"pipelines": len(pipelines),
		"workers":   workers,
	}).Info("fetching jobs for pipelines")

	// Each task writes only its own slot, so no lock is needed around results.
	results := make([]Result, len(pipelines))
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(workers)
	for i, p := range pipelines {
		i, p := i, p
		g.Go(func() error {
			jobs, err := src.ListPipelineJobs(ctx, projectID, p.ID)
			results[i] = Result{Pipeline: p, Jobs: jobs, Err: err}

			n := done.Add(1)
			if n%progressInterval == 0 || n == int64(len(pipelines)) {
				log.Infof("fetched jobs from %d/%d pipelines", n, len(pipelines))
			}
			// Failures are carried in the result, never returned: returning
			// an error here would let errgroup short-circuit the batch.
			return nil
		})
	}
	// Tasks never return errors, so Wait only blocks for completion.
	_ = g.Wait()

	return results
}
