package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/waabox/flakewatch/internal/analyze"
	"github.com/waabox/flakewatch/internal/classify"
)

// Document is the top-level structure of the JSON report.
type Document struct {
	Project       string                            `json:"project"`
	ProjectID     int64                             `json:"projectId"`
	GeneratedAt   time.Time                         `json:"generatedAt"`
	UpdatedAfter  time.Time                         `json:"updatedAfter"`
	PipelineCount int                               `json:"pipelineCount"`
	Totals        classify.Totals                   `json:"totals"`
	FlakinessRate float64                           `json:"flakinessRate"`
	Reliability   float64                           `json:"reliabilityRate"`
	Jobs          map[string]*classify.JobNameStats `json:"jobs"`
	Flakes        []classify.FlakyOccurrence        `json:"flakes,omitempty"`
	Skipped       []SkippedEntry                    `json:"skippedPipelines,omitempty"`
}

// SkippedEntry is the JSON shape of one skipped pipeline.
type SkippedEntry struct {
	PipelineID int64  `json:"pipelineId"`
	Error      string `json:"error"`
}

// WriteJSON renders the result as indented JSON.
func WriteJSON(w io.Writer, res *analyze.Result, generatedAt time.Time) error {
	totals := res.Stats.Totals()
	doc := Document{
		Project:       res.Project.Name,
		ProjectID:     res.Project.ID,
		GeneratedAt:   generatedAt,
		UpdatedAfter:  res.UpdatedAfter,
		PipelineCount: res.PipelineCount,
		Totals:        totals,
		FlakinessRate: totals.FlakinessRate(),
		Reliability:   totals.ReliabilityRate(),
		Jobs:          res.Stats.Jobs,
		Flakes:        res.Stats.Flakes,
	}
	for _, s := range res.Skipped {
		doc.Skipped = append(doc.Skipped, SkippedEntry{PipelineID: s.PipelineID, Error: s.Err.Error()})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}
