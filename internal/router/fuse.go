package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/capitalize-ai/compliance-intelligence/internal/llm"
	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

// Reranker reorders candidate passages by relevance to a query. It returns
// candidate indexes, most relevant first; omitted indexes are dropped.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]int, error)
}

// candidates renders memory then document snippets as fusion inputs.
func candidates(memorySnippets []string, docs []model.Snippet) []string {
	out := make([]string, 0, len(memorySnippets)+len(docs))
	for _, m := range memorySnippets {
		out = append(out, "Earlier in this conversation: "+m)
	}
	for _, d := range docs {
		if d.Source != "" {
			out = append(out, fmt.Sprintf("[%s] %s", d.Source, d.Text))
		} else {
			out = append(out, d.Text)
		}
	}
	return out
}

// reorder applies a rerank result. Invalid or repeated indexes are an error
// so the caller can fall back to the original order.
func reorder(items []string, order []int) ([]string, error) {
	if len(order) == 0 {
		return nil, errors.New("rerank returned no passages")
	}
	seen := make(map[int]struct{}, len(order))
	out := make([]string, 0, len(order))
	for _, i := range order {
		if i < 0 || i >= len(items) {
			return nil, fmt.Errorf("rerank index %d out of range", i)
		}
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, items[i])
	}
	return out, nil
}

// truncate joins items into at most maxChars bytes. Whole items are kept
// while they fit; the first item that does not fit is cut at a rune
// boundary and the rest are dropped.
func truncate(items []string, maxChars int) string {
	var b strings.Builder
	for _, item := range items {
		sep := ""
		if b.Len() > 0 {
			sep = "\n\n"
		}
		remaining := maxChars - b.Len() - len(sep)
		if remaining <= 0 {
			break
		}
		if len(item) <= remaining {
			b.WriteString(sep)
			b.WriteString(item)
			continue
		}
		cut := remaining
		for cut > 0 && !utf8.RuneStart(item[cut]) {
			cut--
		}
		if cut > 0 {
			b.WriteString(sep)
			b.WriteString(item[:cut])
		}
		break
	}
	return b.String()
}

const rerankPrompt = `Rank the passages below by how useful they are for answering the question. Reply with passage numbers only, most useful first, separated by commas. Omit passages that are irrelevant.

Question: %s

Passages:
%s`

// LLMReranker asks a generation backend to order passages.
type LLMReranker struct {
	client    llm.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewLLMReranker creates a reranker over client. Each call is bounded by
// timeout, or llm.DefaultTimeout when it is not positive.
func NewLLMReranker(client llm.Client, model string, timeout time.Duration) *LLMReranker {
	return &LLMReranker{client: client, model: model, maxTokens: 64, timeout: timeout}
}

// Rerank implements Reranker.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []string) ([]int, error) {
	var list strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&list, "%d. %s\n", i+1, c)
	}

	req := llm.Prompt(r.model, "", fmt.Sprintf(rerankPrompt, query, list.String()), r.maxTokens)
	resp, err := llm.CompleteWithin(ctx, r.client, req, r.timeout)
	if err != nil {
		return nil, err
	}
	return parseRanking(resp.Content)
}

// parseRanking reads "3, 1, 2" into zero-based indexes.
func parseRanking(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' })
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".[]()")
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("parse ranking %q: %w", f, err)
		}
		out = append(out, n-1)
	}
	if len(out) == 0 {
		return nil, errors.New("empty ranking")
	}
	return out, nil
}
