package compliance

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Rules are the per-facet status thresholds.
type Rules struct {
	Sanctions SanctionsRules `toml:"sanctions"`
	Refusals  RefusalsRules  `toml:"refusals"`
	Rulings   RulingsRules   `toml:"rulings"`
}

// SanctionsRules configure the sanctions tile. Any confirmed list match is
// always an action.
type SanctionsRules struct {
	ReviewMinPossible int `toml:"review_min_possible"`
}

// RefusalsRules configure the refusals tile.
type RefusalsRules struct {
	AttentionCount int `toml:"attention_count"`
	ActionCount    int `toml:"action_count"`
}

// RulingsRules configure the rulings tile.
type RulingsRules struct {
	HeadingDigits int `toml:"heading_digits"`
}

// DefaultRules returns the built-in thresholds.
func DefaultRules() Rules {
	return Rules{
		Sanctions: SanctionsRules{ReviewMinPossible: 1},
		Refusals:  RefusalsRules{AttentionCount: 1, ActionCount: 5},
		Rulings:   RulingsRules{HeadingDigits: 4},
	}
}

// LoadRules reads thresholds from a TOML file over the defaults. An empty
// path returns the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read rules file: %w", err)
	}
	if err := toml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return rules, err
	}
	return rules, nil
}

// Validate checks that thresholds are consistent.
func (r Rules) Validate() error {
	var errs []error
	if r.Sanctions.ReviewMinPossible < 1 {
		errs = append(errs, errors.New("sanctions.review_min_possible must be >= 1"))
	}
	if r.Refusals.AttentionCount < 1 {
		errs = append(errs, errors.New("refusals.attention_count must be >= 1"))
	}
	if r.Refusals.ActionCount < r.Refusals.AttentionCount {
		errs = append(errs, errors.New("refusals.action_count must be >= refusals.attention_count"))
	}
	if r.Rulings.HeadingDigits < 2 || r.Rulings.HeadingDigits > 10 {
		errs = append(errs, errors.New("rulings.heading_digits must be between 2 and 10"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid rules: %w", errors.Join(errs...))
	}
	return nil
}
