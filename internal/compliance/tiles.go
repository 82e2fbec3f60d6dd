package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/internal/tools"
)

var facetTitles = map[model.Facet]string{
	model.FacetClassification: "Classification",
	model.FacetSanctions:      "Sanctions screening",
	model.FacetRefusals:       "Refusal history",
	model.FacetRulings:        "Rulings",
}

// BuildTile renders one facet's envelope. A failed envelope, or a payload
// for a different facet, becomes an error tile.
func BuildTile(facet model.Facet, res model.Result[tools.Payload], productID string, rules Rules) model.Tile {
	if !res.Success || res.Data == nil {
		return errorTile(facet, res.Error)
	}
	if res.Data.Facet() != facet {
		return errorTile(facet, fmt.Sprintf("%s returned a %s payload", facet, res.Data.Facet()))
	}

	var tile model.Tile
	switch p := res.Data.(type) {
	case *tools.ClassificationPayload:
		tile = classificationTile(p)
	case *tools.SanctionsPayload:
		tile = sanctionsTile(p, rules.Sanctions)
	case *tools.RefusalsPayload:
		tile = refusalsTile(p, rules.Refusals)
	case *tools.RulingsPayload:
		tile = rulingsTile(p, productID, rules.Rulings)
	default:
		return errorTile(facet, fmt.Sprintf("%s payload type %T is not supported", facet, p))
	}

	tile.LastUpdated = res.Data.Updated().UTC()
	tile.Citations = append([]model.Citation{}, res.Data.Citations()...)
	return tile
}

func errorTile(facet model.Facet, reason string) model.Tile {
	if reason == "" {
		reason = "no reason given"
	}
	return model.Tile{
		Status:    model.StatusError,
		Headline:  facetTitles[facet] + " unavailable",
		Details:   reason,
		Citations: []model.Citation{},
	}
}

func classificationTile(p *tools.ClassificationPayload) model.Tile {
	duty := p.GeneralDuty
	if duty == "" {
		duty = "n/a"
	}
	details := p.Description
	if p.AdditionalDuty != "" {
		details = strings.TrimSpace(details + " Additional duty: " + p.AdditionalDuty + ".")
	}
	return model.Tile{
		Status:   model.StatusClear,
		Headline: fmt.Sprintf("HTS %s · duty %s", p.HTSCode, duty),
		Details:  details,
	}
}

func sanctionsTile(p *tools.SanctionsPayload, r SanctionsRules) model.Tile {
	lists := "configured lists"
	if len(p.ListsChecked) > 0 {
		lists = strings.Join(p.ListsChecked, ", ")
	}

	switch {
	case len(p.Matches) > 0:
		parties := make([]string, 0, len(p.Matches))
		for _, m := range p.Matches {
			parties = append(parties, fmt.Sprintf("%s (%s)", m.Party, m.List))
		}
		return model.Tile{
			Status:   model.StatusAction,
			Headline: plural(len(p.Matches), "sanctions match", "sanctions matches"),
			Details:  "Listed parties: " + strings.Join(parties, "; ") + ".",
		}
	case len(p.PossibleMatches) >= r.ReviewMinPossible:
		return model.Tile{
			Status:   model.StatusAttention,
			Headline: plural(len(p.PossibleMatches), "possible match to review", "possible matches to review"),
			Details:  fmt.Sprintf("Fuzzy hits against %s need manual review.", lists),
		}
	}
	return model.Tile{
		Status:   model.StatusClear,
		Headline: "No sanctions matches",
		Details:  "Screened against " + lists + ".",
	}
}

func refusalsTile(p *tools.RefusalsPayload, r RefusalsRules) model.Tile {
	n := p.Count()
	window := "the lookback window"
	if p.WindowDays > 0 {
		window = fmt.Sprintf("the last %d days", p.WindowDays)
	}

	status := model.StatusClear
	switch {
	case n >= r.ActionCount:
		status = model.StatusAction
	case n >= r.AttentionCount:
		status = model.StatusAttention
	}

	if n == 0 {
		return model.Tile{
			Status:   status,
			Headline: "No import refusals",
			Details:  "No refusals recorded in " + window + ".",
		}
	}

	var reasons []string
	seen := make(map[string]struct{})
	for _, ref := range p.Refusals {
		if _, ok := seen[ref.Reason]; ok || ref.Reason == "" {
			continue
		}
		seen[ref.Reason] = struct{}{}
		reasons = append(reasons, ref.Reason)
	}

	details := fmt.Sprintf("%s in %s.", plural(n, "refusal", "refusals"), window)
	if len(reasons) > 0 {
		details += " Reasons: " + strings.Join(reasons, "; ") + "."
	}
	return model.Tile{
		Status:   status,
		Headline: plural(n, "import refusal", "import refusals"),
		Details:  details,
	}
}

func rulingsTile(p *tools.RulingsPayload, productID string, r RulingsRules) model.Tile {
	if len(p.Rulings) == 0 {
		return model.Tile{
			Status:   model.StatusClear,
			Headline: "No related rulings",
			Details:  "No rulings found for this classification.",
		}
	}

	want := heading(productID, r.HeadingDigits)
	var divergent []string
	for _, ru := range p.Rulings {
		if ru.HTSCode == "" {
			continue
		}
		if heading(ru.HTSCode, r.HeadingDigits) != want {
			divergent = append(divergent, fmt.Sprintf("%s (HTS %s)", ru.Number, ru.HTSCode))
		}
	}

	if len(divergent) > 0 {
		return model.Tile{
			Status:   model.StatusAttention,
			Headline: plural(len(divergent), "ruling classifies differently", "rulings classify differently"),
			Details:  "Rulings under another heading: " + strings.Join(divergent, "; ") + ".",
		}
	}

	numbers := make([]string, 0, len(p.Rulings))
	for _, ru := range p.Rulings {
		numbers = append(numbers, ru.Number)
	}
	return model.Tile{
		Status:   model.StatusClear,
		Headline: plural(len(p.Rulings), "consistent ruling", "consistent rulings"),
		Details:  "Rulings: " + strings.Join(numbers, ", ") + ".",
	}
}

// heading returns the first n digits of an HTS code, ignoring dots.
func heading(code string, n int) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == n {
				break
			}
		}
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

// BuildSnapshot assembles a snapshot with one tile per facet. Facets with
// no recorded envelope become error tiles. The ID is left for the durable
// store to assign.
func BuildSnapshot(key model.Key, results map[model.Facet]model.Result[tools.Payload], rules Rules, generatedAt time.Time, elapsed time.Duration) *model.Snapshot {
	tiles := make(map[model.Facet]model.Tile, len(model.Facets))
	for _, f := range model.Facets {
		res, ok := results[f]
		if !ok {
			res = model.Fail[tools.Payload](fmt.Sprintf("%s was not executed", f))
		}
		tiles[f] = BuildTile(f, res, key.ProductID, rules)
	}

	risk, alerts := model.DeriveRisk(tiles)
	return &model.Snapshot{
		ClientID:         key.ClientID,
		ProductID:        key.ProductID,
		LaneID:           key.LaneID,
		Tiles:            tiles,
		OverallRisk:      risk,
		ActiveAlertCount: alerts,
		GeneratedAt:      generatedAt.UTC(),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
}
