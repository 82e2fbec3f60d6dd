// Package compliance implements the compliance workflow: four tool calls,
// supporting retrieval, then either a risk snapshot or an answer.
package compliance

import (
	"strings"
	"time"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/internal/tools"
	"github.com/capitalize-ai/compliance-intelligence/pkg/fsm"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

// OutputKind tags the single output of a job.
type OutputKind string

const (
	OutputSnapshot OutputKind = "snapshot"
	OutputAnswer   OutputKind = "answer"
	OutputError    OutputKind = "error"
)

// Answer is a generated response to a question.
type Answer struct {
	Text        string           `json:"text"`
	Citations   []model.Citation `json:"citations"`
	Unavailable []model.Facet    `json:"unavailable,omitempty"`
}

// Output holds exactly one of Snapshot, Answer or Error, as named by Kind.
type Output struct {
	Kind     OutputKind      `json:"kind"`
	Snapshot *model.Snapshot `json:"snapshot,omitempty"`
	Answer   *Answer         `json:"answer,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func snapshotOutput(s *model.Snapshot) Output {
	return Output{Kind: OutputSnapshot, Snapshot: s}
}

func answerOutput(a *Answer) Output {
	return Output{Kind: OutputAnswer, Answer: a}
}

func errorOutput(msg string) Output {
	return Output{Kind: OutputError, Error: msg}
}

// Job is the record threaded through one workflow run. A job is owned by a
// single goroutine for the duration of the run.
type Job struct {
	ClientID  string
	ProductID string
	LaneID    string
	// Question selects answer mode when non-empty.
	Question string

	Results  map[model.Facet]model.Result[tools.Payload]
	Snippets []model.Snippet
	Output   Output
	Path     []fsm.State

	started time.Time
	log     *logger.Logger
}

// NewJob creates a snapshot job for a key.
func NewJob(key model.Key) *Job {
	return &Job{ClientID: key.ClientID, ProductID: key.ProductID, LaneID: key.LaneID}
}

// Key returns the job's (client, product, lane) key.
func (j *Job) Key() model.Key {
	return model.Key{ClientID: j.ClientID, ProductID: j.ProductID, LaneID: j.LaneID}
}

// Missing lists the absent identifiers by field name.
func (j *Job) Missing() []string {
	var missing []string
	if strings.TrimSpace(j.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(j.ProductID) == "" {
		missing = append(missing, "product_id")
	}
	if strings.TrimSpace(j.LaneID) == "" {
		missing = append(missing, "lane_id")
	}
	return missing
}

// Unavailable returns the facets whose envelopes failed, in facet order.
func (j *Job) Unavailable() []model.Facet {
	var out []model.Facet
	for _, f := range model.Facets {
		if res, ok := j.Results[f]; ok && !res.Success {
			out = append(out, f)
		}
	}
	return out
}
