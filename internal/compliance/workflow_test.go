package compliance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/compliance-intelligence/internal/llm"
	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/internal/retrieval"
	"github.com/capitalize-ai/compliance-intelligence/internal/tools"
	"github.com/capitalize-ai/compliance-intelligence/pkg/fsm"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

var updated = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func healthyPayloads() map[model.Facet]tools.Payload {
	meta := tools.Meta{UpdatedAt: updated, Sources: []model.Citation{{Source: "usitc"}}}
	return map[model.Facet]tools.Payload{
		model.FacetClassification: &tools.ClassificationPayload{
			Meta: meta, HTSCode: "8517.12.00", Description: "Telephones for cellular networks", GeneralDuty: "Free",
		},
		model.FacetSanctions: &tools.SanctionsPayload{
			Meta: tools.Meta{UpdatedAt: updated, Sources: []model.Citation{{Source: "ofac-sdn"}}}, ListsChecked: []string{"SDN", "Entity List"},
		},
		model.FacetRefusals: &tools.RefusalsPayload{Meta: tools.Meta{UpdatedAt: updated}, WindowDays: 365},
		model.FacetRulings: &tools.RulingsPayload{
			Meta:    tools.Meta{UpdatedAt: updated},
			Rulings: []tools.Ruling{{Number: "N312345", HTSCode: "8517.12.0050", Title: "Smartphones"}},
		},
	}
}

type fakeInvoker struct {
	mu       sync.Mutex
	payloads map[model.Facet]tools.Payload
	failures map[model.Facet]int // remaining failures; -1 fails forever
	calls    map[model.Facet]int
}

func newFakeInvoker(payloads map[model.Facet]tools.Payload) *fakeInvoker {
	return &fakeInvoker{payloads: payloads, failures: map[model.Facet]int{}, calls: map[model.Facet]int{}}
}

func (f *fakeInvoker) failing(facet model.Facet, times int) *fakeInvoker {
	f.failures[facet] = times
	return f
}

func (f *fakeInvoker) Invoke(ctx context.Context, facet model.Facet, args tools.Args) model.Result[tools.Payload] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[facet]++
	if n := f.failures[facet]; n != 0 {
		if n > 0 {
			f.failures[facet] = n - 1
		}
		return model.Fail[tools.Payload](string(facet) + " lookup timed out after 10s")
	}
	return model.OK(f.payloads[facet])
}

func (f *fakeInvoker) total() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeSearcher struct {
	snippets []model.Snippet
	fail     bool
	calls    int
	filters  retrieval.Filters
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int, filters retrieval.Filters) model.Result[[]model.Snippet] {
	f.calls++
	f.filters = filters
	if f.fail {
		return model.Fail[[]model.Snippet]("retrieval unavailable")
	}
	return model.OK(f.snippets)
}

type fakeGenerator struct {
	content string
	err     error
	prompts []string
}

func (f *fakeGenerator) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.prompts = append(f.prompts, req.Messages[0].Content)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func (f *fakeGenerator) Name() string { return "fake" }

func newTestWorkflow(inv tools.Invoker, s retrieval.Searcher, g llm.Client, opts Options) *Workflow {
	w := NewWorkflow(inv, s, g, DefaultRules(), opts, logger.NewNop())
	w.now = func() time.Time { return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) }
	return w
}

func healthyJob() *Job {
	return NewJob(model.Key{ClientID: "acme", ProductID: "8517.12.00", LaneID: "CN-US"})
}

func TestMissingIdentifiersMakeNoCalls(t *testing.T) {
	tests := []struct {
		name string
		key  model.Key
		want string
	}{
		{name: "client", key: model.Key{ProductID: "8517.12.00", LaneID: "CN-US"}, want: "client_id"},
		{name: "product", key: model.Key{ClientID: "acme", LaneID: "CN-US"}, want: "product_id"},
		{name: "lane", key: model.Key{ClientID: "acme", ProductID: "8517.12.00"}, want: "lane_id"},
		{name: "all", key: model.Key{}, want: "client_id, product_id, lane_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newFakeInvoker(healthyPayloads())
			search := &fakeSearcher{}
			w := newTestWorkflow(inv, search, &fakeGenerator{content: "x"}, Options{})

			job, err := w.Run(context.Background(), NewJob(tt.key))

			require.NoError(t, err)
			assert.Equal(t, OutputError, job.Output.Kind)
			assert.Contains(t, job.Output.Error, tt.want)
			assert.Nil(t, job.Output.Snapshot)
			assert.Nil(t, job.Output.Answer)
			assert.Zero(t, inv.total())
			assert.Zero(t, search.calls)
			assert.Equal(t, []fsm.State{StateValidate}, job.Path)
		})
	}
}

func TestHealthySnapshot(t *testing.T) {
	search := &fakeSearcher{snippets: []model.Snippet{{Text: "x", Source: "guide"}}}
	w := newTestWorkflow(newFakeInvoker(healthyPayloads()), search, nil, Options{})

	job, err := w.Run(context.Background(), healthyJob())
	require.NoError(t, err)
	require.Equal(t, OutputSnapshot, job.Output.Kind)

	s := job.Output.Snapshot
	assert.Len(t, s.Tiles, 4)
	assert.Equal(t, model.RiskLow, s.OverallRisk)
	assert.Zero(t, s.ActiveAlertCount)
	assert.Equal(t, "HTS 8517.12.00 · duty Free", s.Tiles[model.FacetClassification].Headline)
	assert.Equal(t, updated, s.Tiles[model.FacetSanctions].LastUpdated)
	assert.Equal(t, retrieval.Filters{"hts_code": "8517.12.00"}, search.filters)
	assert.Equal(t, []fsm.State{StateValidate, StateExecuteTools, StateRetrieveContext, StateGenerateSnapshot}, job.Path)
	assert.Nil(t, job.Output.Answer)
}

func TestSanctionsHit(t *testing.T) {
	payloads := healthyPayloads()
	payloads[model.FacetSanctions] = &tools.SanctionsPayload{
		Meta:    tools.Meta{UpdatedAt: updated},
		Matches: []tools.SanctionsMatch{{Party: "Shenzhen Example Ltd", List: "Entity List", Score: 0.98}},
	}
	w := newTestWorkflow(newFakeInvoker(payloads), nil, nil, Options{})

	s, err := w.Snapshot(context.Background(), healthyJob().Key())
	require.NoError(t, err)

	assert.Equal(t, model.StatusAction, s.Tiles[model.FacetSanctions].Status)
	assert.Equal(t, model.RiskHigh, s.OverallRisk)
	assert.GreaterOrEqual(t, s.ActiveAlertCount, 1)
}

func TestSingleFacetFailureKeepsFourTiles(t *testing.T) {
	for _, failed := range model.Facets {
		t.Run(string(failed), func(t *testing.T) {
			inv := newFakeInvoker(healthyPayloads()).failing(failed, -1)
			w := newTestWorkflow(inv, nil, nil, Options{})

			job, err := w.Run(context.Background(), healthyJob())
			require.NoError(t, err)
			require.Equal(t, OutputSnapshot, job.Output.Kind)

			s := job.Output.Snapshot
			require.Len(t, s.Tiles, 4)
			for _, f := range model.Facets {
				if f == failed {
					assert.Equal(t, model.StatusError, s.Tiles[f].Status)
					assert.Contains(t, s.Tiles[f].Details, "timed out")
					assert.Empty(t, s.Tiles[f].Citations)
				} else {
					assert.Equal(t, model.StatusClear, s.Tiles[f].Status)
				}
			}
			assert.Equal(t, model.RiskLow, s.OverallRisk)
			assert.Zero(t, s.ActiveAlertCount)
			assert.Equal(t, 1, inv.calls[failed])
		})
	}
}

func TestFailedFacetDoesNotMaskOtherAlerts(t *testing.T) {
	payloads := healthyPayloads()
	payloads[model.FacetRefusals] = &tools.RefusalsPayload{TotalCount: 2}
	inv := newFakeInvoker(payloads).failing(model.FacetSanctions, -1)

	s, err := newTestWorkflow(inv, nil, nil, Options{}).Snapshot(context.Background(), healthyJob().Key())
	require.NoError(t, err)

	assert.Equal(t, model.RiskWarn, s.OverallRisk)
	assert.Equal(t, 1, s.ActiveAlertCount)
}

func TestSnapshotIdempotent(t *testing.T) {
	w := newTestWorkflow(newFakeInvoker(healthyPayloads()), &fakeSearcher{}, nil, Options{})

	first, err := w.Snapshot(context.Background(), healthyJob().Key())
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC) }
	second, err := w.Snapshot(context.Background(), healthyJob().Key())
	require.NoError(t, err)

	assert.NotEqual(t, first.GeneratedAt, second.GeneratedAt)
	a, b := *first, *second
	a.GeneratedAt, b.GeneratedAt = time.Time{}, time.Time{}
	a.ProcessingTimeMs, b.ProcessingTimeMs = 0, 0
	assert.Equal(t, a, b)
}

func TestParallelToolsMatchSequential(t *testing.T) {
	payloads := healthyPayloads()
	seq := newTestWorkflow(newFakeInvoker(payloads).failing(model.FacetRulings, -1), nil, nil, Options{})
	par := newTestWorkflow(newFakeInvoker(payloads).failing(model.FacetRulings, -1), nil, nil, Options{ParallelTools: true})

	a, err := seq.Snapshot(context.Background(), healthyJob().Key())
	require.NoError(t, err)
	b, err := par.Snapshot(context.Background(), healthyJob().Key())
	require.NoError(t, err)

	assert.Equal(t, a.Tiles, b.Tiles)
	assert.Equal(t, a.OverallRisk, b.OverallRisk)
}

func TestToolRetries(t *testing.T) {
	inv := newFakeInvoker(healthyPayloads()).failing(model.FacetSanctions, 2)
	w := newTestWorkflow(inv, nil, nil, Options{Retries: 2})

	s, err := w.Snapshot(context.Background(), healthyJob().Key())
	require.NoError(t, err)

	assert.Equal(t, model.StatusClear, s.Tiles[model.FacetSanctions].Status)
	assert.Equal(t, 3, inv.calls[model.FacetSanctions])
	assert.Equal(t, 1, inv.calls[model.FacetClassification])
}

func TestRetrievalFailureYieldsEmptySnippets(t *testing.T) {
	w := newTestWorkflow(newFakeInvoker(healthyPayloads()), &fakeSearcher{fail: true}, nil, Options{})

	job, err := w.Run(context.Background(), healthyJob())
	require.NoError(t, err)

	assert.Equal(t, OutputSnapshot, job.Output.Kind)
	assert.NotNil(t, job.Snippets)
	assert.Empty(t, job.Snippets)
}

func TestAnswerNotesUnavailableSources(t *testing.T) {
	gen := &fakeGenerator{content: "The general duty rate is Free."}
	search := &fakeSearcher{snippets: []model.Snippet{
		{Text: "Section 301 list 3 covers heading 8517.", Source: "ustr-301", Score: 0.9},
	}}
	inv := newFakeInvoker(healthyPayloads()).failing(model.FacetSanctions, -1)
	w := newTestWorkflow(inv, search, gen, Options{})

	job := healthyJob()
	job.Question = "What duty applies?"
	job, err := w.Run(context.Background(), job)
	require.NoError(t, err)

	require.Equal(t, OutputAnswer, job.Output.Kind)
	assert.Nil(t, job.Output.Snapshot)
	ans := job.Output.Answer
	assert.True(t, strings.HasPrefix(ans.Text, "The general duty rate is Free."))
	assert.Contains(t, ans.Text, "unavailable sources: sanctions")
	assert.Equal(t, []model.Facet{model.FacetSanctions}, ans.Unavailable)
	assert.Contains(t, ans.Citations, model.Citation{Source: "ustr-301"})
	assert.NotContains(t, ans.Citations, model.Citation{Source: "ofac-sdn"})

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "Unavailable sources:\n- sanctions: sanctions lookup timed out")
	assert.Contains(t, prompt, "- classification: ")
	assert.NotContains(t, prompt, "- sanctions: {")
	assert.Contains(t, prompt, "[1] (ustr-301) Section 301")
	assert.Contains(t, prompt, "Question: What duty applies?")
	assert.Equal(t, []fsm.State{StateValidate, StateExecuteTools, StateRetrieveContext, StateAnswerQuestion}, job.Path)
}

func TestAnswerGenerationFailureIsSafe(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("anthropic: 529 overloaded")}
	w := newTestWorkflow(newFakeInvoker(healthyPayloads()), nil, gen, Options{})

	job := healthyJob()
	job.Question = "Is this lane risky?"
	job, err := w.Run(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, OutputError, job.Output.Kind)
	assert.Equal(t, answerFailedMessage, job.Output.Error)
	assert.NotContains(t, job.Output.Error, "529")
	assert.Nil(t, job.Output.Answer)
}

type hangingGenerator struct{}

func (hangingGenerator) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingGenerator) Name() string { return "hanging" }

func TestAnswerGenerationTimesOut(t *testing.T) {
	w := newTestWorkflow(newFakeInvoker(healthyPayloads()), nil, hangingGenerator{}, Options{GenerationTimeout: 20 * time.Millisecond})

	job := healthyJob()
	job.Question = "Is this lane risky?"

	start := time.Now()
	job, err := w.Run(context.Background(), job)

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, OutputError, job.Output.Kind)
	assert.Equal(t, answerFailedMessage, job.Output.Error)
}

func TestWorkflowLogsCarryKey(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := newTestWorkflow(newFakeInvoker(healthyPayloads()), nil, hangingGenerator{}, Options{GenerationTimeout: 10 * time.Millisecond})
	w.logger = &logger.Logger{Logger: zap.New(core)}

	job := healthyJob()
	job.Question = "Is this lane risky?"
	_, err := w.Run(context.Background(), job)
	require.NoError(t, err)

	failed := logs.FilterMessage("Answer generation failed").All()
	require.Len(t, failed, 1)
	fields := failed[0].ContextMap()
	assert.Equal(t, "acme", fields["client_id"])
	assert.Equal(t, "8517.12.00", fields["product_id"])
	assert.Equal(t, "CN-US", fields["lane_id"])
}

func TestAbandonedRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inv := newFakeInvoker(healthyPayloads())

	job, err := newTestWorkflow(inv, nil, nil, Options{}).Run(ctx, healthyJob())

	assert.ErrorIs(t, err, fsm.ErrAbandoned)
	assert.Equal(t, OutputError, job.Output.Kind)
	assert.Zero(t, inv.total())
}
