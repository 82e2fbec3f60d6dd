package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/compliance-intelligence/internal/llm"
	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/internal/retrieval"
	"github.com/capitalize-ai/compliance-intelligence/internal/tools"
	"github.com/capitalize-ai/compliance-intelligence/pkg/fsm"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
	"github.com/capitalize-ai/compliance-intelligence/pkg/metrics"
)

const (
	StateValidate         fsm.State = "validate"
	StateExecuteTools     fsm.State = "execute_tools"
	StateRetrieveContext  fsm.State = "retrieve_context"
	StateGenerateSnapshot fsm.State = "generate_snapshot"
	StateAnswerQuestion   fsm.State = "answer_question"
)

// MaxSnippets caps supporting context per job.
const MaxSnippets = 5

const answerFailedMessage = "The answer could not be generated right now. Please try again shortly."

// ErrNoSnapshot is returned by Snapshot when the job ends without one.
var ErrNoSnapshot = errors.New("workflow produced no snapshot")

// Options tune a Workflow.
type Options struct {
	// ParallelTools fans the four tool calls out concurrently.
	ParallelTools bool
	// Retries is how many extra attempts a failed tool call gets.
	Retries   int
	Snippets  int
	Model     string
	MaxTokens int

	// GenerationTimeout bounds the answer completion.
	GenerationTimeout time.Duration
}

// Workflow runs compliance jobs. It is safe for concurrent use; each job
// is owned by the goroutine that calls Run.
type Workflow struct {
	tools     tools.Invoker
	retrieval retrieval.Searcher
	generator llm.Client
	rules     Rules
	opts      Options
	logger    *logger.Logger
	now       func() time.Time
	machine   *fsm.Machine[Job]
}

// NewWorkflow creates a workflow. searcher and generator may be nil: no
// supporting context is retrieved, and questions end in an error output.
func NewWorkflow(invoker tools.Invoker, searcher retrieval.Searcher, generator llm.Client, rules Rules, opts Options, log *logger.Logger) *Workflow {
	if opts.Snippets <= 0 || opts.Snippets > MaxSnippets {
		opts.Snippets = MaxSnippets
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	w := &Workflow{
		tools:     invoker,
		retrieval: searcher,
		generator: generator,
		rules:     rules,
		opts:      opts,
		logger:    log.Named("compliance"),
		now:       time.Now,
	}

	w.machine = fsm.New[Job]("compliance", StateValidate).
		Handle(StateValidate, w.validate).
		Handle(StateExecuteTools, w.executeTools).
		Handle(StateRetrieveContext, w.retrieveContext).
		Handle(StateGenerateSnapshot, w.generateSnapshot).
		Handle(StateAnswerQuestion, w.answerQuestion)

	return w
}

// Run drives the job to exactly one output. The error is non-nil only when
// the caller's context ends mid-run or the machine is misconfigured; the
// job output is then an error as well.
func (w *Workflow) Run(ctx context.Context, job *Job) (*Job, error) {
	job.Results = make(map[model.Facet]model.Result[tools.Payload], len(model.Facets))
	job.Snippets = nil
	job.Output = Output{}
	job.started = w.now()
	job.log = w.logger.WithKey(job.ClientID, job.ProductID, job.LaneID)

	path, err := w.machine.Run(ctx, job)
	job.Path = path
	if err != nil {
		if !errors.Is(err, fsm.ErrAbandoned) {
			job.log.Error("Compliance workflow failed", zap.Error(err))
		}
		job.Output = errorOutput("The compliance check was interrupted.")
	} else if job.Output.Kind == "" {
		job.Output = errorOutput("The compliance check produced no result.")
	}

	metrics.WorkflowRuns.WithLabelValues(string(job.Output.Kind)).Inc()
	return job, err
}

// Snapshot runs a snapshot job for key.
func (w *Workflow) Snapshot(ctx context.Context, key model.Key) (*model.Snapshot, error) {
	job, err := w.Run(ctx, NewJob(key))
	if err != nil {
		return nil, err
	}
	if job.Output.Kind != OutputSnapshot {
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, job.Output.Error)
	}
	return job.Output.Snapshot, nil
}

func (w *Workflow) validate(ctx context.Context, j *Job) fsm.State {
	if missing := j.Missing(); len(missing) > 0 {
		j.Output = errorOutput("Missing required identifiers: " + strings.Join(missing, ", ") + ".")
		return fsm.Done
	}
	return StateExecuteTools
}

func (w *Workflow) executeTools(ctx context.Context, j *Job) fsm.State {
	results := make([]model.Result[tools.Payload], len(model.Facets))

	if w.opts.ParallelTools {
		var g errgroup.Group
		for i, f := range model.Facets {
			g.Go(func() error {
				results[i] = w.invoke(ctx, j, f)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, f := range model.Facets {
			results[i] = w.invoke(ctx, j, f)
		}
	}

	for i, f := range model.Facets {
		j.Results[f] = results[i]
	}
	return StateRetrieveContext
}

// invoke calls one tool with the configured retry budget.
func (w *Workflow) invoke(ctx context.Context, j *Job, f model.Facet) model.Result[tools.Payload] {
	args := tools.ArgsFor(f, j.ClientID, j.ProductID, j.LaneID)

	res := w.tools.Invoke(ctx, f, args)
	for attempt := 1; !res.Success && attempt <= w.opts.Retries && ctx.Err() == nil; attempt++ {
		j.log.Debug("Retrying tool call",
			zap.String("tool", string(f)),
			zap.Int("attempt", attempt),
			zap.String("reason", res.Error),
		)
		res = w.tools.Invoke(ctx, f, args)
	}
	return res
}

func (w *Workflow) retrieveContext(ctx context.Context, j *Job) fsm.State {
	if w.retrieval != nil {
		query := strings.TrimSpace(j.Question)
		if query == "" {
			query = fmt.Sprintf("HTS %s trade lane %s compliance", j.ProductID, j.LaneID)
		}

		res := w.retrieval.Search(ctx, query, w.opts.Snippets, retrieval.Filters{"hts_code": j.ProductID})
		if snippets, ok := res.Value(); ok {
			if len(snippets) > w.opts.Snippets {
				snippets = snippets[:w.opts.Snippets]
			}
			j.Snippets = snippets
		} else {
			j.log.Warn("Supporting context unavailable", zap.String("reason", res.Error))
		}
	}
	if j.Snippets == nil {
		j.Snippets = []model.Snippet{}
	}

	if strings.TrimSpace(j.Question) != "" {
		return StateAnswerQuestion
	}
	return StateGenerateSnapshot
}

func (w *Workflow) generateSnapshot(ctx context.Context, j *Job) fsm.State {
	now := w.now()
	j.Output = snapshotOutput(BuildSnapshot(j.Key(), j.Results, w.rules, now, now.Sub(j.started)))
	return fsm.Done
}

func (w *Workflow) answerQuestion(ctx context.Context, j *Job) fsm.State {
	if w.generator == nil {
		j.Output = errorOutput(answerFailedMessage)
		return fsm.Done
	}

	req := llm.Prompt(w.opts.Model, answerSystemPrompt, buildAnswerPrompt(j), w.opts.MaxTokens)
	resp, err := llm.CompleteWithin(ctx, w.generator, req, w.opts.GenerationTimeout)
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err == nil {
			err = llm.ErrEmptyCompletion
		}
		j.log.Warn("Answer generation failed", zap.Error(err))
		j.Output = errorOutput(answerFailedMessage)
		return fsm.Done
	}

	text := strings.TrimSpace(resp.Content)
	if notice := unavailableNotice(j); notice != "" {
		text += "\n\n" + notice
	}

	j.Output = answerOutput(&Answer{
		Text:        text,
		Citations:   answerCitations(j),
		Unavailable: j.Unavailable(),
	})
	return fsm.Done
}

// answerCitations lists citations of succeeded facets, then snippet sources.
func answerCitations(j *Job) []model.Citation {
	out := []model.Citation{}
	for _, f := range model.Facets {
		res, ok := j.Results[f]
		if !ok || !res.Success || res.Data == nil {
			continue
		}
		out = append(out, res.Data.Citations()...)
	}
	seen := make(map[string]struct{})
	for _, s := range j.Snippets {
		if s.Source == "" {
			continue
		}
		if _, ok := seen[s.Source]; ok {
			continue
		}
		seen[s.Source] = struct{}{}
		out = append(out, model.Citation{Source: s.Source})
	}
	return out
}
