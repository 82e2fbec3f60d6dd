package pulse

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

// Rank orders events by severity, high first, then by facet name, product
// and lane. The sort is stable so fully tied events keep their input order.
func Rank(events []model.ChangeEvent) []model.ChangeEvent {
	out := append([]model.ChangeEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Facet != b.Facet {
			return a.Facet < b.Facet
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.LaneID < b.LaneID
	})
	return out
}

// Period is the reporting window of a digest.
type Period struct {
	Start time.Time
	End   time.Time
}

// PeriodEnding returns the window of days ending at end.
func PeriodEnding(end time.Time, days int) Period {
	end = end.UTC()
	return Period{Start: end.AddDate(0, 0, -days), End: end}
}

// Coverage counts how much of a portfolio a run could check.
type Coverage struct {
	Monitored int
	// Failed entries produced no snapshot at all.
	Failed int
	// Degraded entries produced a snapshot with at least one error tile.
	Degraded int
}

func (c Coverage) complete() bool {
	return c.Failed == 0 && c.Degraded == 0
}

// Assemble derives a digest from ranked events. It is a pure function of
// its inputs. A run that could not check everything is never clear.
func Assemble(clientID string, period Period, ranked []model.ChangeEvent, cov Coverage, generatedAt time.Time) *model.Digest {
	counts := make(map[model.Severity]int, len(model.Severities))
	for _, s := range model.Severities {
		counts[s] = 0
	}
	for _, e := range ranked {
		counts[e.Severity]++
	}

	requiresAction := counts[model.SeverityHigh] > 0
	status := model.DigestClear
	switch {
	case requiresAction:
		status = model.DigestActionRequired
	case len(ranked) > 0 || !cov.complete():
		status = model.DigestMonitoring
	}

	if ranked == nil {
		ranked = []model.ChangeEvent{}
	}

	d := &model.Digest{
		ClientID:         clientID,
		PeriodStart:      period.Start,
		PeriodEnd:        period.End,
		TotalChanges:     len(ranked),
		CountsBySeverity: counts,
		RequiresAction:   requiresAction,
		Status:           status,
		RankedChanges:    ranked,
		EntriesMonitored: cov.Monitored,
		EntriesFailed:    cov.Failed,
		EntriesDegraded:  cov.Degraded,
		GeneratedAt:      generatedAt.UTC(),
	}
	d.Summary = Summarize(d)
	return d
}

// Summarize renders the digest as a short paragraph for indexing and
// notifications.
func Summarize(d *model.Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pulse digest for %s, %s to %s: ", d.ClientID,
		d.PeriodStart.Format("2006-01-02"), d.PeriodEnd.Format("2006-01-02"))

	fmt.Fprintf(&b, "%d changes (%d high, %d medium, %d low) across %d monitored entries",
		d.TotalChanges,
		d.CountsBySeverity[model.SeverityHigh],
		d.CountsBySeverity[model.SeverityMedium],
		d.CountsBySeverity[model.SeverityLow],
		d.EntriesMonitored,
	)
	if d.EntriesFailed > 0 {
		fmt.Fprintf(&b, ", %d could not be checked", d.EntriesFailed)
	}
	if d.EntriesDegraded > 0 {
		fmt.Fprintf(&b, ", %d checked with sources unavailable", d.EntriesDegraded)
	}
	b.WriteString(".")

	switch d.Status {
	case model.DigestActionRequired:
		b.WriteString(" Action required.")
	case model.DigestClear:
		b.WriteString(" No changes.")
	}

	if len(d.RankedChanges) > 0 {
		top := d.RankedChanges[0]
		fmt.Fprintf(&b, " Top change (%s): %s %s: %s.", top.Severity, top.ProductID, top.LaneID, top.Description)
	}
	return b.String()
}
