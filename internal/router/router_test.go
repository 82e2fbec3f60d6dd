package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/compliance-intelligence/internal/compliance"
	"github.com/capitalize-ai/compliance-intelligence/internal/llm"
	"github.com/capitalize-ai/compliance-intelligence/internal/memory"
	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/internal/retrieval"
	"github.com/capitalize-ai/compliance-intelligence/pkg/fsm"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

type fakeWorkflow struct {
	jobs   []compliance.Job
	output compliance.Output
	err    error
}

func (f *fakeWorkflow) Run(ctx context.Context, job *compliance.Job) (*compliance.Job, error) {
	f.jobs = append(f.jobs, *job)
	job.Output = f.output
	return job, f.err
}

type fakeMemory struct {
	snippets []string
	readFail bool
	reads    int
	writes   [][2]string
}

func (f *fakeMemory) Read(ctx context.Context, userID, sessionID, query string, limit int) model.Result[[]string] {
	f.reads++
	if f.readFail {
		return model.Fail[[]string]("memory unavailable")
	}
	return model.OK(f.snippets)
}

func (f *fakeMemory) Write(ctx context.Context, userID, sessionID, userMessage, assistantMessage string) memory.WriteStatus {
	f.writes = append(f.writes, [2]string{userMessage, assistantMessage})
	return memory.WriteOK
}

type fakeSearcher struct {
	snippets []model.Snippet
	fail     bool
	calls    int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int, filters retrieval.Filters) model.Result[[]model.Snippet] {
	f.calls++
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

type fakeReranker struct {
	order []int
	err   error
}

func (f fakeReranker) Rerank(ctx context.Context, query string, candidates []string) ([]int, error) {
	return f.order, f.err
}

func snapshotOutput() compliance.Output {
	return compliance.Output{Kind: compliance.OutputSnapshot, Snapshot: &model.Snapshot{
		ClientID: "acme", ProductID: "8517.12.00", LaneID: "CN-US",
		Tiles: map[model.Facet]model.Tile{
			model.FacetClassification: {Status: model.StatusClear, Headline: "HTS 8517.12.00 · duty Free", Citations: []model.Citation{{Source: "usitc"}}},
			model.FacetSanctions:      {Status: model.StatusClear, Headline: "No sanctions matches"},
			model.FacetRefusals:       {Status: model.StatusClear, Headline: "No import refusals"},
			model.FacetRulings:        {Status: model.StatusError, Headline: "Rulings unavailable", Citations: []model.Citation{{Source: "cross"}}},
		},
		OverallRisk: model.RiskLow,
	}}
}

func TestComplianceWithoutLaneGoesToSlotFilling(t *testing.T) {
	wf := &fakeWorkflow{output: snapshotOutput()}
	mem := &fakeMemory{}
	search := &fakeSearcher{}
	gen := &fakeGenerator{content: "x"}
	r := New(wf, mem, search, gen, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(context.Background(), &Turn{
		Query:    "Run a sanctions and duty check for 8517.12.00",
		UserID:   "u1",
		ClientID: "acme",
	})

	require.NoError(t, err)
	assert.Equal(t, RouteSlotFilling, turn.Route)
	assert.Equal(t, []string{"lane_id"}, turn.Missing)
	assert.Equal(t, "8517.12.00", turn.ProductID)
	assert.Empty(t, turn.LaneID)
	assert.Contains(t, turn.Response, "trade lane")
	assert.Empty(t, wf.jobs)
	assert.Zero(t, search.calls)
	assert.Zero(t, mem.reads)
	assert.Empty(t, gen.prompts)
	assert.Equal(t, []fsm.State{StateRoute, StateSlotFilling, StateUpdateMemory}, turn.Path)
	require.Len(t, mem.writes, 1)
	assert.Equal(t, turn.Response, mem.writes[0][1])
}

func TestSlotFillingNamesEveryMissingIdentifier(t *testing.T) {
	r := New(&fakeWorkflow{}, nil, nil, nil, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(context.Background(), &Turn{Query: "what's my compliance risk?"})

	require.NoError(t, err)
	assert.Equal(t, []string{"client_id", "product_id", "lane_id"}, turn.Missing)
	assert.Contains(t, turn.Response, "client account")
	assert.Contains(t, turn.Response, "HTS code")
	assert.Contains(t, turn.Response, "trade lane")
	assert.Equal(t, memory.WriteIgnored, turn.MemoryStatus)
}

func TestCompliancePathSnapshot(t *testing.T) {
	wf := &fakeWorkflow{output: snapshotOutput()}
	mem := &fakeMemory{}
	r := New(wf, mem, &fakeSearcher{}, nil, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(context.Background(), &Turn{
		Query:    "Give me a compliance snapshot for 8517.12.00 on CN-US",
		UserID:   "u1",
		ClientID: "acme",
	})

	require.NoError(t, err)
	assert.Equal(t, RouteCompliance, turn.Route)
	require.Len(t, wf.jobs, 1)
	assert.Equal(t, "CN-US", wf.jobs[0].LaneID)
	assert.Empty(t, wf.jobs[0].Question)
	require.NotNil(t, turn.Snapshot)
	assert.Equal(t, []model.Citation{{Source: "usitc"}}, turn.Citations)
	assert.True(t, strings.HasPrefix(turn.Response, "Compliance snapshot for 8517.12.00 on CN-US: overall risk low, 0 active alerts."))
	assert.Equal(t, []fsm.State{StateRoute, StateCompliancePath, StateUpdateMemory}, turn.Path)
	assert.Len(t, mem.writes, 1)
}

func TestCompliancePathQuestion(t *testing.T) {
	wf := &fakeWorkflow{output: compliance.Output{Kind: compliance.OutputAnswer, Answer: &compliance.Answer{
		Text: "Duty is Free.", Citations: []model.Citation{{Source: "usitc"}},
	}}}
	r := New(wf, nil, nil, nil, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(context.Background(), &Turn{
		Query: "What duty applies?", ClientID: "acme", ProductID: "8517.12.00", LaneID: "CN-US",
	})

	require.NoError(t, err)
	require.Len(t, wf.jobs, 1)
	assert.Equal(t, "What duty applies?", wf.jobs[0].Question)
	assert.Equal(t, "Duty is Free.", turn.Response)
	assert.Nil(t, turn.Snapshot)
}

func TestExplicitSlotsAreNotOverwritten(t *testing.T) {
	wf := &fakeWorkflow{output: snapshotOutput()}
	r := New(wf, nil, nil, nil, nil, Options{}, logger.NewNop())

	_, err := r.HandleTurn(context.Background(), &Turn{
		Query: "check 9999.99.99 for MX-US", ClientID: "acme", ProductID: "8517.12.00",
	})

	require.NoError(t, err)
	require.Len(t, wf.jobs, 1)
	assert.Equal(t, "8517.12.00", wf.jobs[0].ProductID)
	assert.Equal(t, "MX-US", wf.jobs[0].LaneID)
}

func TestComplianceErrorOutputStillCompletes(t *testing.T) {
	wf := &fakeWorkflow{output: compliance.Output{Kind: compliance.OutputError, Error: "The answer could not be generated right now."}}
	mem := &fakeMemory{}
	r := New(wf, mem, nil, nil, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(context.Background(), &Turn{
		Query: "Why is this lane risky?", ClientID: "acme", ProductID: "8517.12.00", LaneID: "CN-US",
	})

	require.NoError(t, err)
	assert.Contains(t, turn.Response, "couldn't complete the compliance check")
	assert.Contains(t, turn.Degraded, "compliance")
	assert.Len(t, mem.writes, 1)
}

func TestWorkflowInterruptedStillWritesMemory(t *testing.T) {
	wf := &fakeWorkflow{
		output: compliance.Output{Kind: compliance.OutputError},
		err:    fsm.ErrAbandoned,
	}
	mem := &fakeMemory{}
	r := New(wf, mem, nil, nil, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(context.Background(), &Turn{
		Query: "snapshot please", ClientID: "acme", ProductID: "8517.12.00", LaneID: "CN-US",
	})

	require.NoError(t, err)
	assert.Equal(t, fallbackInterrupted, turn.Response)
	assert.Len(t, mem.writes, 1)
}

func TestGeneralPathFusesMemoryAndDocuments(t *testing.T) {
	mem := &fakeMemory{snippets: []string{"user: we ship from Vietnam"}}
	search := &fakeSearcher{snippets: []model.Snippet{{Text: "Incoterms define delivery obligations.", Source: "icc-guide", Score: 0.8}}}
	gen := &fakeGenerator{content: "Incoterms split costs and risk."}
	r := New(&fakeWorkflow{}, mem, search, gen, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(context.Background(), &Turn{Query: "Explain Incoterms to me", UserID: "u1", SessionID: "s1"})

	require.NoError(t, err)
	assert.Equal(t, RouteGeneral, turn.Route)
	assert.Equal(t, "Incoterms split costs and risk.", turn.Response)
	assert.Equal(t, "Earlier in this conversation: user: we ship from Vietnam\n\n[icc-guide] Incoterms define delivery obligations.", turn.FusedContext)
	assert.Equal(t, []model.Citation{{Source: "icc-guide"}}, turn.Citations)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Context:\n"+turn.FusedContext)
	assert.Equal(t, []fsm.State{StateRoute, StateGeneralPath, StateUpdateMemory}, turn.Path)
	assert.Empty(t, turn.Degraded)
}

func TestGeneralPathDegradesEachStep(t *testing.T) {
	mem := &fakeMemory{readFail: true}
	search := &fakeSearcher{fail: true}
	gen := &fakeGenerator{err: errors.New("upstream 500")}
	r := New(&fakeWorkflow{}, mem, search, gen, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(context.Background(), &Turn{Query: "hello there"})

	require.NoError(t, err)
	assert.Equal(t, fallbackNoAnswer, turn.Response)
	assert.Equal(t, []string{"memory", "retrieval", "generation"}, turn.Degraded)
	assert.Empty(t, turn.FusedContext)
	assert.Len(t, mem.writes, 1)
}

func TestGeneralPathFallsBackToMaterial(t *testing.T) {
	search := &fakeSearcher{snippets: []model.Snippet{{Text: "Warehouse hours are 8-5.", Source: "faq"}}}
	r := New(&fakeWorkflow{}, nil, search, nil, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(context.Background(), &Turn{Query: "when is the warehouse open"})

	require.NoError(t, err)
	assert.Equal(t, fallbackWithMaterial+"Warehouse hours are 8-5.", turn.Response)
}

func TestRerankerOrdersAndFailureTruncates(t *testing.T) {
	search := &fakeSearcher{snippets: []model.Snippet{{Text: "alpha"}, {Text: "beta"}, {Text: "gamma"}}}
	gen := &fakeGenerator{content: "ok"}

	r := New(&fakeWorkflow{}, nil, search, gen, fakeReranker{order: []int{2, 0}}, Options{}, logger.NewNop())
	turn, err := r.HandleTurn(context.Background(), &Turn{Query: "tell me something"})
	require.NoError(t, err)
	assert.Equal(t, "gamma\n\nalpha", turn.FusedContext)

	r = New(&fakeWorkflow{}, nil, search, gen, fakeReranker{err: errors.New("timeout")}, Options{ContextMaxChars: 12}, logger.NewNop())
	turn, err = r.HandleTurn(context.Background(), &Turn{Query: "tell me something"})
	require.NoError(t, err)
	assert.Equal(t, "alpha\n\nbeta", turn.FusedContext)
	assert.Contains(t, turn.Degraded, "rerank")

	r = New(&fakeWorkflow{}, nil, search, gen, fakeReranker{order: []int{7}}, Options{}, logger.NewNop())
	turn, err = r.HandleTurn(context.Background(), &Turn{Query: "tell me something"})
	require.NoError(t, err)
	assert.Equal(t, "alpha\n\nbeta\n\ngamma", turn.FusedContext)
}

func TestPriceIsNotTakenForProductCode(t *testing.T) {
	wf := &fakeWorkflow{output: snapshotOutput()}
	r := New(wf, nil, nil, nil, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(context.Background(), &Turn{
		Query:    "import invoice of 1500.00, CN-US",
		ClientID: "acme",
	})

	require.NoError(t, err)
	assert.Equal(t, RouteSlotFilling, turn.Route)
	assert.Equal(t, []string{"product_id"}, turn.Missing)
	assert.Empty(t, turn.ProductID)
	assert.Empty(t, wf.jobs)
}

type hangingGenerator struct{}

func (hangingGenerator) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingGenerator) Name() string { return "hanging" }

func TestGeneralPathGenerationTimesOut(t *testing.T) {
	mem := &fakeMemory{}
	r := New(&fakeWorkflow{}, mem, nil, hangingGenerator{}, nil, Options{GenerationTimeout: 20 * time.Millisecond}, logger.NewNop())

	start := time.Now()
	turn, err := r.HandleTurn(context.Background(), &Turn{Query: "what are your office hours"})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, fallbackNoAnswer, turn.Response)
	assert.Contains(t, turn.Degraded, "generation")
	assert.Equal(t, []fsm.State{StateRoute, StateGeneralPath, StateUpdateMemory}, turn.Path)
	require.Len(t, mem.writes, 1)
}

func TestLLMRerankerTimesOut(t *testing.T) {
	rr := NewLLMReranker(hangingGenerator{}, "", 20*time.Millisecond)

	start := time.Now()
	_, err := rr.Rerank(context.Background(), "duty", []string{"a", "b"})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAbandonedTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mem := &fakeMemory{}
	r := New(&fakeWorkflow{}, mem, nil, nil, nil, Options{}, logger.NewNop())

	turn, err := r.HandleTurn(ctx, &Turn{Query: "hello"})

	assert.ErrorIs(t, err, fsm.ErrAbandoned)
	assert.Equal(t, fallbackNoAnswer, turn.Response)
	assert.Empty(t, mem.writes)
}
