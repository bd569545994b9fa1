// Package analyze is the entry point of the reliability analysis: it lists
// pipelines for a project, fans out job collection, and reduces the
// results into aggregate statistics.
package analyze

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/waabox/flakewatch/internal/classify"
	"github.com/waabox/flakewatch/internal/collect"
	"github.com/waabox/flakewatch/internal/domain"
)

// Config holds the parameters of one analysis run.
type Config struct {
	// ProjectID is the GitLab project ID or "group/name" path.
	ProjectID string
	// UpdatedAfter bounds the historical window: only pipelines updated
	// after this instant are analyzed.
	UpdatedAfter time.Time
	// Workers bounds the concurrent per-pipeline job fetches.
	Workers int
	// Log receives progress and warning events. Defaults to the standard logger.
	Log logrus.FieldLogger
}

// SkippedPipeline records a pipeline whose job collection failed after its
// own retries were exhausted. Skipped pipelines are excluded from the
// statistics but kept visible for operator review.
type SkippedPipeline struct {
	PipelineID int64
	Err        error
}

// Result is the finalized aggregate handed to the report writers.
type Result struct {
	Project       domain.Project
	UpdatedAfter  time.Time
	PipelineCount int
	Stats         *classify.Stats
	Skipped       []SkippedPipeline
}

// SkippedError folds the skipped-pipeline failures into a single error for
// operator-facing summaries. Returns nil when nothing was skipped.
func (r *Result) SkippedError() error {
	var merr *multierror.Error
	for _, s := range r.Skipped {
		merr = multierror.Append(merr, fmt.Errorf("pipeline %d: %w", s.PipelineID, s.Err))
	}
	return merr.ErrorOrNil()
}

// Run performs one batch analysis pass over the project's recent pipelines.
// A failure to resolve the project or list its pipelines is batch-fatal and
// returns an error with no partial result. Failures collecting individual
// pipelines' jobs are recorded in Result.Skipped and do not abort the run.
func Run(ctx context.Context, src domain.JobSource, cfg Config) (*Result, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("project", cfg.ProjectID)

	project, err := src.GetProject(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolving project %s: %w", cfg.ProjectID, err)
	}
	log.WithField("name", project.Name).Info("starting flakiness analysis")

	pipelines, err := src.ListPipelines(ctx, cfg.ProjectID, cfg.UpdatedAfter)
	if err != nil {
		return nil, fmt.Errorf("listing pipelines for %s: %w", cfg.ProjectID, err)
	}
	log.WithField("pipelines", len(pipelines)).Info("pipelines found in window")

	results := collect.Jobs(ctx, src, cfg.ProjectID, pipelines, cfg.Workers, log)

	// Single-threaded reduction: all concurrent fetches have completed by
	// now, so the accumulator needs no locking.
	stats := classify.NewStats()
	var skipped []SkippedPipeline
	for _, res := range results {
		if res.Err != nil {
			log.WithError(res.Err).WithField("pipeline", res.Pipeline.ID).
				Warn("skipping pipeline: job collection failed")
			skipped = append(skipped, SkippedPipeline{PipelineID: res.Pipeline.ID, Err: res.Err})
			continue
		}
		for _, g := range classify.Group(res.Pipeline, res.Jobs) {
			out := classify.Classify(g)
			if out.Anomaly != "" {
				log.WithFields(logrus.Fields{
					"pipeline": g.PipelineID,
					"job":      g.Name,
					"statuses": g.Statuses(),
				}).Warn(out.Anomaly)
			}
			stats.Add(out)
		}
	}

	log.WithField("jobs", len(stats.Jobs)).Info("flakiness analysis completed")

	return &Result{
		Project:       project,
		UpdatedAfter:  cfg.UpdatedAfter,
		PipelineCount: len(pipelines),
		Stats:         stats,
		Skipped:       skipped,
	}, nil
}
