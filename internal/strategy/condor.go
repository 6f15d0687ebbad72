// Package strategy selects strikes and assembles four-leg iron condor
// strategies around the current spot price.
package strategy

import (
	"fmt"
	"math"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

// SelectionReason classifies why strike selection failed.
type SelectionReason string

const (
	// ReasonStrikeNotFound marks a computed strike absent from the chain.
	// Substituting the nearest available strike would silently change the
	// risk profile, so selection fails instead.
	ReasonStrikeNotFound SelectionReason = "strike_not_found"
	// ReasonBadParams marks invalid selection parameters.
	ReasonBadParams SelectionReason = "bad_params"
)

// SelectionError reports a failed strike selection. Fatal to the current
// decision cycle; never recovered by approximation.
type SelectionError struct {
	Reason     SelectionReason
	OptionType models.OptionType
	Strike     float64
	Err        error
}

func (e *SelectionError) Error() string {
	if e.Reason == ReasonStrikeNotFound {
		return fmt.Sprintf("select: no %s contract at strike %.2f", e.OptionType, e.Strike)
	}
	return fmt.Sprintf("select: %s: %v", e.Reason, e.Err)
}

func (e *SelectionError) Unwrap() error { return e.Err }

// Params configures strike selection. Widths are in index points, not strike
// counts, and come from configuration rather than hard-coded offsets.
type Params struct {
	StrikeInterval float64 // exchange strike step, e.g. 50
	BodyWidth      float64 // distance between the two short strikes
	WingWidth      float64 // distance from each short strike to its wing
	Lots           int     // lot quantity shared by all four legs
}

func (p Params) validate() error {
	switch {
	case p.StrikeInterval <= 0:
		return fmt.Errorf("strike interval must be positive, got %.2f", p.StrikeInterval)
	case p.BodyWidth <= 0:
		return fmt.Errorf("body width must be positive, got %.2f", p.BodyWidth)
	case p.WingWidth <= 0:
		return fmt.Errorf("wing width must be positive, got %.2f", p.WingWidth)
	case p.Lots <= 0:
		return fmt.Errorf("lots must be positive, got %d", p.Lots)
	}
	return nil
}

// CenterStrike rounds spot to the nearest multiple of the strike interval.
func CenterStrike(spot, interval float64) float64 {
	return math.Round(spot/interval) * interval
}

// Select assembles an iron condor around spot from the given chain.
//
// Short call = center + body/2, short put = center - body/2, with wings one
// WingWidth beyond each short strike. Every computed strike must exist in the
// chain; a missing strike fails the selection outright. Pure function; the
// returned strategy carries no tag — the caller assigns one at placement time.
func Select(spot float64, chain models.ChainSnapshot, p Params) (models.Strategy, error) {
	if err := p.validate(); err != nil {
		return models.Strategy{}, &SelectionError{Reason: ReasonBadParams, Err: err}
	}

	center := CenterStrike(spot, p.StrikeInterval)
	shortCall := center + p.BodyWidth/2
	shortPut := center - p.BodyWidth/2
	longCall := shortCall + p.WingWidth
	longPut := shortPut - p.WingWidth

	legs := []models.Leg{
		{OptionType: models.OptionTypeCall, Strike: shortCall, Side: models.SideSell, Quantity: p.Lots},
		{OptionType: models.OptionTypeCall, Strike: longCall, Side: models.SideBuy, Quantity: p.Lots},
		{OptionType: models.OptionTypePut, Strike: shortPut, Side: models.SideSell, Quantity: p.Lots},
		{OptionType: models.OptionTypePut, Strike: longPut, Side: models.SideBuy, Quantity: p.Lots},
	}

	for _, leg := range legs {
		if _, ok := chain.Lookup(leg.Strike, leg.OptionType); !ok {
			return models.Strategy{}, &SelectionError{
				Reason:     ReasonStrikeNotFound,
				OptionType: leg.OptionType,
				Strike:     leg.Strike,
			}
		}
	}

	s := models.Strategy{Expiry: chain.Expiry, Legs: legs}
	if err := s.Validate(); err != nil {
		return models.Strategy{}, &SelectionError{Reason: ReasonBadParams, Err: err}
	}
	return s, nil
}

// Premiums extracts the last traded price of each leg's contract from the
// chain, keyed by leg identity, for payoff evaluation.
func Premiums(s models.Strategy, chain models.ChainSnapshot) (map[models.LegKey]float64, error) {
	premiums := make(map[models.LegKey]float64, len(s.Legs))
	for _, leg := range s.Legs {
		contract, ok := chain.Lookup(leg.Strike, leg.OptionType)
		if !ok {
			return nil, &SelectionError{
				Reason:     ReasonStrikeNotFound,
				OptionType: leg.OptionType,
				Strike:     leg.Strike,
			}
		}
		premiums[leg.Key()] = contract.LastPrice
	}
	return premiums, nil
}
