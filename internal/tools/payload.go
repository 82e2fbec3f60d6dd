package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

// Payload is the closed set of per-facet tool results. Decode only ever
// produces the four types in this file; the unexported method keeps other
// packages from adding cases the tile builders cannot switch over.
type Payload interface {
	Facet() model.Facet
	Updated() time.Time
	Citations() []model.Citation
	sealed()
}

// Meta carries the fields every tool payload shares.
type Meta struct {
	UpdatedAt time.Time        `json:"updated_at"`
	Sources   []model.Citation `json:"sources,omitempty"`
}

// Updated returns the source timestamp of the payload.
func (m Meta) Updated() time.Time { return m.UpdatedAt }

// Citations returns the source references of the payload.
func (m Meta) Citations() []model.Citation { return m.Sources }

func (Meta) sealed() {}

// ClassificationPayload is the tariff classification lookup result.
type ClassificationPayload struct {
	Meta
	HTSCode        string `json:"hts_code"`
	Description    string `json:"description"`
	GeneralDuty    string `json:"general_duty"`
	AdditionalDuty string `json:"additional_duty,omitempty"`
}

// Facet implements Payload.
func (*ClassificationPayload) Facet() model.Facet { return model.FacetClassification }

// SanctionsMatch is one screening hit.
type SanctionsMatch struct {
	Party   string  `json:"party"`
	List    string  `json:"list"`
	Score   float64 `json:"score"`
	EntryID string  `json:"entry_id,omitempty"`
}

// SanctionsPayload is the sanctions screening result. Matches are confirmed
// list matches; PossibleMatches are fuzzy hits awaiting review.
type SanctionsPayload struct {
	Meta
	Matches         []SanctionsMatch `json:"matches"`
	PossibleMatches []SanctionsMatch `json:"possible_matches,omitempty"`
	ListsChecked    []string         `json:"lists_checked,omitempty"`
}

// Facet implements Payload.
func (*SanctionsPayload) Facet() model.Facet { return model.FacetSanctions }

// Refusal is one import refusal record.
type Refusal struct {
	Date        string `json:"date"`
	Firm        string `json:"firm"`
	Country     string `json:"country,omitempty"`
	Reason      string `json:"reason"`
	EntryNumber string `json:"entry_number,omitempty"`
}

// RefusalsPayload is the refusal history over a lookback window.
type RefusalsPayload struct {
	Meta
	Refusals   []Refusal `json:"refusals"`
	TotalCount int       `json:"total_count"`
	WindowDays int       `json:"window_days,omitempty"`
}

// Facet implements Payload.
func (*RefusalsPayload) Facet() model.Facet { return model.FacetRefusals }

// Count returns the refusal count over the window. Sources that omit
// total_count are counted by their listed records.
func (p *RefusalsPayload) Count() int {
	if p.TotalCount > 0 {
		return p.TotalCount
	}
	return len(p.Refusals)
}

// Ruling is one customs ruling reference.
type Ruling struct {
	Number  string `json:"number"`
	Date    string `json:"date,omitempty"`
	Title   string `json:"title"`
	HTSCode string `json:"hts_code,omitempty"`
	URL     string `json:"url,omitempty"`
}

// RulingsPayload is the rulings search result.
type RulingsPayload struct {
	Meta
	Rulings []Ruling `json:"rulings"`
}

// Facet implements Payload.
func (*RulingsPayload) Facet() model.Facet { return model.FacetRulings }

// Decode parses a raw tool response into the facet's payload type.
func Decode(facet model.Facet, raw []byte) (Payload, error) {
	var p Payload
	switch facet {
	case model.FacetClassification:
		var c ClassificationPayload
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		if c.HTSCode == "" {
			return nil, fmt.Errorf("%w: missing hts_code", ErrMalformedPayload)
		}
		p = &c
	case model.FacetSanctions:
		var s SanctionsPayload
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		p = &s
	case model.FacetRefusals:
		var r RefusalsPayload
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		p = &r
	case model.FacetRulings:
		var r RulingsPayload
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		p = &r
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, facet)
	}
	return p, nil
}
