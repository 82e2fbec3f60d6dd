package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/compliance"
	"github.com/capitalize-ai/compliance-intelligence/internal/llm"
	"github.com/capitalize-ai/compliance-intelligence/internal/memory"
	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/internal/retrieval"
	"github.com/capitalize-ai/compliance-intelligence/pkg/fsm"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
	"github.com/capitalize-ai/compliance-intelligence/pkg/metrics"
)

const (
	StateRoute          fsm.State = "route"
	StateSlotFilling    fsm.State = "slot_filling"
	StateGeneralPath    fsm.State = "general_path"
	StateCompliancePath fsm.State = "compliance_path"
	StateUpdateMemory   fsm.State = "update_memory"
)

const (
	DefaultMemoryLimit     = 5
	DefaultRetrievalK      = 5
	DefaultContextMaxChars = 4000
)

const (
	generalSystemPrompt = `You are a trade compliance assistant. Answer using the context when it is relevant. If the context does not cover the question, say so briefly instead of guessing.`

	fallbackNoAnswer     = "I couldn't generate an answer right now. Please try again shortly."
	fallbackInterrupted  = "The compliance check was interrupted before it finished. Please try again."
	fallbackWithMaterial = "I couldn't generate a full answer right now. The most relevant material I found:\n\n"
)

// Workflow is the compliance workflow as seen by the router.
type Workflow interface {
	Run(ctx context.Context, job *compliance.Job) (*compliance.Job, error)
}

// Memory is the memory adapter as seen by the router.
type Memory interface {
	Read(ctx context.Context, userID, sessionID, query string, limit int) model.Result[[]string]
	Write(ctx context.Context, userID, sessionID, userMessage, assistantMessage string) memory.WriteStatus
}

// Options tune a Router.
type Options struct {
	MemoryLimit     int
	RetrievalK      int
	ContextMaxChars int
	Model           string
	MaxTokens       int

	// GenerationTimeout bounds the general answer completion.
	GenerationTimeout time.Duration
}

// Router handles conversational turns.
type Router struct {
	workflow  Workflow
	memory    Memory
	retrieval retrieval.Searcher
	generator llm.Client
	reranker  Reranker
	opts      Options
	logger    *logger.Logger
	machine   *fsm.Machine[Turn]
}

// New creates a router. mem, searcher, generator and reranker may be nil;
// each missing collaborator contributes nothing to a turn.
func New(workflow Workflow, mem Memory, searcher retrieval.Searcher, generator llm.Client, reranker Reranker, opts Options, log *logger.Logger) *Router {
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = DefaultMemoryLimit
	}
	if opts.RetrievalK <= 0 {
		opts.RetrievalK = DefaultRetrievalK
	}
	if opts.ContextMaxChars <= 0 {
		opts.ContextMaxChars = DefaultContextMaxChars
	}
	if mem == nil {
		mem = memory.NewAdapter(nil, 0, log)
	}

	r := &Router{
		workflow:  workflow,
		memory:    mem,
		retrieval: searcher,
		generator: generator,
		reranker:  reranker,
		opts:      opts,
		logger:    log.Named("router"),
	}

	r.machine = fsm.New[Turn]("router", StateRoute).
		Handle(StateRoute, r.route).
		Handle(StateSlotFilling, r.slotFilling).
		Handle(StateGeneralPath, r.generalPath).
		Handle(StateCompliancePath, r.compliancePath).
		Handle(StateUpdateMemory, r.updateMemory)

	return r
}

// HandleTurn processes one message and fills in the response. The error is
// non-nil only when the caller abandons the turn or the machine is
// misconfigured; the turn still carries a fallback response.
func (r *Router) HandleTurn(ctx context.Context, t *Turn) (*Turn, error) {
	path, err := r.machine.Run(ctx, t)
	t.Path = path
	if err != nil {
		if !errors.Is(err, fsm.ErrAbandoned) {
			r.logger.Error("Router failed", zap.Error(err))
		}
		if t.Response == "" {
			t.Response = fallbackNoAnswer
		}
	}
	if t.Citations == nil {
		t.Citations = []model.Citation{}
	}
	metrics.RouterTurns.WithLabelValues(string(t.Route)).Inc()
	return t, err
}

func (r *Router) route(ctx context.Context, t *Turn) fsm.State {
	if !IsCompliance(t.Query) {
		t.Route = RouteGeneral
		return StateGeneralPath
	}

	// identifiers written in the message fill empty slots only
	if t.ProductID == "" {
		t.ProductID = ExtractHTS(t.Query)
	}
	if t.LaneID == "" {
		t.LaneID = ExtractLane(t.Query)
	}

	t.Missing = missingIdentifiers(t)
	if len(t.Missing) > 0 {
		t.Route = RouteSlotFilling
		return StateSlotFilling
	}
	t.Route = RouteCompliance
	return StateCompliancePath
}

func missingIdentifiers(t *Turn) []string {
	var missing []string
	if strings.TrimSpace(t.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(t.ProductID) == "" {
		missing = append(missing, "product_id")
	}
	if strings.TrimSpace(t.LaneID) == "" {
		missing = append(missing, "lane_id")
	}
	return missing
}

var slotPrompts = map[string]string{
	"client_id":  "which client account this is for",
	"product_id": "the product's HTS code (for example 8517.12.00)",
	"lane_id":    "the trade lane as origin-destination country codes (for example CN-US)",
}

func (r *Router) slotFilling(ctx context.Context, t *Turn) fsm.State {
	asks := make([]string, 0, len(t.Missing))
	for _, m := range t.Missing {
		asks = append(asks, slotPrompts[m])
	}
	t.Response = "To run a compliance check I need " + joinList(asks) + "."
	return StateUpdateMemory
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

func (r *Router) generalPath(ctx context.Context, t *Turn) fsm.State {
	mem := r.memory.Read(ctx, t.UserID, t.SessionID, t.Query, r.opts.MemoryLimit)
	if snippets, ok := mem.Value(); ok {
		t.MemorySnippets = snippets
	} else {
		t.degrade("memory")
	}

	if r.retrieval != nil {
		docs := r.retrieval.Search(ctx, t.Query, r.opts.RetrievalK, nil)
		if snippets, ok := docs.Value(); ok {
			t.DocumentSnippets = snippets
		} else {
			t.degrade("retrieval")
		}
	}

	t.FusedContext = r.fuse(ctx, t)
	for _, d := range t.DocumentSnippets {
		if d.Source != "" {
			t.Citations = appendCitation(t.Citations, model.Citation{Source: d.Source})
		}
	}

	t.Response = r.generate(ctx, t)
	return StateUpdateMemory
}

func appendCitation(list []model.Citation, c model.Citation) []model.Citation {
	for _, existing := range list {
		if existing == c {
			return list
		}
	}
	return append(list, c)
}

// fuse builds the bounded context. A reranker reorders the candidates when
// configured; any rerank failure falls back to the original order.
func (r *Router) fuse(ctx context.Context, t *Turn) string {
	items := candidates(t.MemorySnippets, t.DocumentSnippets)
	if len(items) == 0 {
		return ""
	}

	if r.reranker != nil && len(items) > 1 {
		order, err := r.reranker.Rerank(ctx, t.Query, items)
		if err == nil {
			if reordered, rerr := reorder(items, order); rerr == nil {
				items = reordered
			} else {
				err = rerr
			}
		}
		if err != nil {
			r.logger.Warn("Rerank failed, truncating instead", zap.Error(err))
			t.degrade("rerank")
		}
	}

	return truncate(items, r.opts.ContextMaxChars)
}

func (r *Router) generate(ctx context.Context, t *Turn) string {
	if r.generator != nil {
		prompt := t.Query
		if t.FusedContext != "" {
			prompt = "Context:\n" + t.FusedContext + "\n\nQuestion: " + t.Query
		}
		req := llm.Prompt(r.opts.Model, generalSystemPrompt, prompt, r.opts.MaxTokens)
		resp, err := llm.CompleteWithin(ctx, r.generator, req, r.opts.GenerationTimeout)
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return strings.TrimSpace(resp.Content)
		}
		if err == nil {
			err = llm.ErrEmptyCompletion
		}
		r.logger.Warn("General answer generation failed", zap.Error(err))
	}
	t.degrade("generation")

	if len(t.DocumentSnippets) > 0 {
		return fallbackWithMaterial + clip(t.DocumentSnippets[0].Text, 600)
	}
	return fallbackNoAnswer
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

func (r *Router) compliancePath(ctx context.Context, t *Turn) fsm.State {
	job := &compliance.Job{
		ClientID:  t.ClientID,
		ProductID: t.ProductID,
		LaneID:    t.LaneID,
	}
	if IsQuestion(t.Query) {
		job.Question = t.Query
	}

	job, err := r.workflow.Run(ctx, job)
	if err != nil {
		r.logger.Warn("Compliance workflow interrupted", zap.Error(err))
		t.degrade("compliance")
		t.Response = fallbackInterrupted
		return StateUpdateMemory
	}

	switch job.Output.Kind {
	case compliance.OutputSnapshot:
		t.Snapshot = job.Output.Snapshot
		t.Citations = t.Snapshot.Citations()
		t.Response = describeSnapshot(t.Snapshot)
	case compliance.OutputAnswer:
		t.Response = job.Output.Answer.Text
		t.Citations = job.Output.Answer.Citations
	default:
		t.degrade("compliance")
		t.Response = "I couldn't complete the compliance check. " + job.Output.Error
	}
	return StateUpdateMemory
}

// describeSnapshot renders a short text version of a snapshot for chat.
func describeSnapshot(s *model.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compliance snapshot for %s on %s: overall risk %s, %d active alert", s.ProductID, s.LaneID, s.OverallRisk, s.ActiveAlertCount)
	if s.ActiveAlertCount != 1 {
		b.WriteString("s")
	}
	b.WriteString(".")
	for _, f := range model.Facets {
		tile := s.Tiles[f]
		fmt.Fprintf(&b, "\n- %s (%s): %s", f, tile.Status, tile.Headline)
	}
	return b.String()
}

func (r *Router) updateMemory(ctx context.Context, t *Turn) fsm.State {
	t.MemoryStatus = r.memory.Write(ctx, t.UserID, t.SessionID, t.Query, t.Response)
	return fsm.Done
}
