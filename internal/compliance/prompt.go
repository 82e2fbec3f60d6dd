package compliance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

const answerSystemPrompt = `You are a trade compliance analyst. Answer the question using only the tool results and reference excerpts provided. Cite sources by name. If a source is listed as unavailable, say that the answer does not reflect it. Do not invent classification codes, parties or rulings.`

// buildAnswerPrompt renders successful tool outputs, the failed facets with
// their reasons, and the retrieved excerpts.
func buildAnswerPrompt(j *Job) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Client: %s\nProduct (HTS): %s\nTrade lane: %s\n\n", j.ClientID, j.ProductID, j.LaneID)

	b.WriteString("Tool results:\n")
	for _, f := range model.Facets {
		res, ok := j.Results[f]
		if !ok || !res.Success {
			continue
		}
		data, err := json.Marshal(res.Data)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", f, data)
	}

	if unavailable := j.Unavailable(); len(unavailable) > 0 {
		b.WriteString("\nUnavailable sources:\n")
		for _, f := range unavailable {
			fmt.Fprintf(&b, "- %s: %s\n", f, j.Results[f].Error)
		}
	}

	if len(j.Snippets) > 0 {
		b.WriteString("\nReference excerpts:\n")
		for i, s := range j.Snippets {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, s.Source, s.Text)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", strings.TrimSpace(j.Question))
	return b.String()
}

// unavailableNotice is appended to every answer with failed facets.
func unavailableNotice(j *Job) string {
	unavailable := j.Unavailable()
	if len(unavailable) == 0 {
		return ""
	}
	names := make([]string, 0, len(unavailable))
	for _, f := range unavailable {
		names = append(names, string(f))
	}
	return "Note: this answer does not reflect the following unavailable sources: " + strings.Join(names, ", ") + "."
}
