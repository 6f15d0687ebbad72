// Package positions reconciles raw broker position snapshots into canonical
// open positions grouped by strategy tag.
package positions

import (
	"sort"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/broker"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

// Reconcile converts a fresh broker snapshot into canonical positions. The
// result replaces any previous view wholesale; positions are never patched
// field-by-field, which avoids stale-field drift between cycles. Pure
// transform, no network calls.
func Reconcile(raw []broker.RawPosition) []models.Position {
	out := make([]models.Position, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.Position{
			StrategyTag:   r.OrderTag,
			InstrumentKey: r.InstrumentKey,
			Quantity:      r.Quantity,
			AveragePrice:  r.AveragePrice,
			LastPrice:     r.LastPrice,
			RealizedPnL:   r.RealizedPnL,
			UnrealizedPnL: r.UnrealizedPnL,
		})
	}
	// Stable ordering by tag then instrument keeps reports deterministic.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StrategyTag != out[j].StrategyTag {
			return out[i].StrategyTag < out[j].StrategyTag
		}
		return out[i].InstrumentKey < out[j].InstrumentKey
	})
	return out
}

// OpenStrategies returns the distinct non-empty strategy tags that still have
// at least one leg with nonzero quantity. Fully-closed legs stay in the
// reconciled list for reporting but never appear in the open set.
func OpenStrategies(positions []models.Position) map[string]struct{} {
	open := make(map[string]struct{})
	for _, p := range positions {
		if p.StrategyTag == "" || p.Quantity == 0 {
			continue
		}
		open[p.StrategyTag] = struct{}{}
	}
	return open
}

// OpenTags returns the open strategy tags as a sorted slice for reporting.
func OpenTags(positions []models.Position) []string {
	set := OpenStrategies(positions)
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
