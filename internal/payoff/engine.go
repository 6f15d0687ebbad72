// Package payoff computes expiry P&L curves, breakevens and profit/loss
// extrema for assembled option strategies.
package payoff

import (
	"fmt"
	"math"
	"sort"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

// PriceRange defines the underlying price grid for payoff evaluation.
type PriceRange struct {
	Low  float64
	High float64
	Step float64
}

func (r PriceRange) validate() error {
	switch {
	case r.Step <= 0:
		return fmt.Errorf("price step must be positive, got %.4f", r.Step)
	case r.High <= r.Low:
		return fmt.Errorf("price range [%.2f, %.2f] is empty", r.Low, r.High)
	}
	return nil
}

// RangeAround builds an evaluation range spanning all strikes of the strategy
// plus pad points on either side.
func RangeAround(s models.Strategy, pad, step float64) PriceRange {
	low := math.Inf(1)
	high := math.Inf(-1)
	for _, leg := range s.Legs {
		low = math.Min(low, leg.Strike)
		high = math.Max(high, leg.Strike)
	}
	return PriceRange{Low: low - pad, High: high + pad, Step: step}
}

// Evaluate computes the expiry payoff profile of a strategy given per-leg
// premiums. The payoff of this leg shape is piecewise linear with kinks only
// at the four strikes, so the engine evaluates every grid step plus each
// strike exactly; grid granularity alone would clip the corners. Pure and
// idempotent: identical inputs yield an identical result.
func Evaluate(s models.Strategy, premiums map[models.LegKey]float64, r PriceRange) (models.PayoffResult, error) {
	if err := r.validate(); err != nil {
		return models.PayoffResult{}, err
	}
	if err := s.Validate(); err != nil {
		return models.PayoffResult{}, fmt.Errorf("invalid strategy: %w", err)
	}
	for _, leg := range s.Legs {
		if _, ok := premiums[leg.Key()]; !ok {
			return models.PayoffResult{}, fmt.Errorf("missing premium for %s %.2f",
				leg.OptionType, leg.Strike)
		}
	}

	prices := evaluationPrices(s, r)

	curve := make([]models.PricePoint, 0, len(prices))
	maxProfit := math.Inf(-1)
	maxLoss := math.Inf(1)
	for _, price := range prices {
		pnl := netPnLAt(s, premiums, price)
		curve = append(curve, models.PricePoint{Price: price, PnL: pnl})
		maxProfit = math.Max(maxProfit, pnl)
		maxLoss = math.Min(maxLoss, pnl)
	}

	breakevens, err := findBreakevens(curve)
	if err != nil {
		return models.PayoffResult{}, err
	}

	return models.PayoffResult{
		MaxProfit:  maxProfit,
		MaxLoss:    maxLoss,
		Breakevens: breakevens,
		Curve:      curve,
	}, nil
}

// evaluationPrices merges the uniform grid with the strategy's strikes,
// deduplicated and sorted ascending.
func evaluationPrices(s models.Strategy, r PriceRange) []float64 {
	var prices []float64
	for p := r.Low; p <= r.High+1e-9; p += r.Step {
		prices = append(prices, p)
	}
	for _, leg := range s.Legs {
		if leg.Strike >= r.Low && leg.Strike <= r.High {
			prices = append(prices, leg.Strike)
		}
	}
	sort.Float64s(prices)

	dedup := prices[:0]
	for i, p := range prices {
		if i == 0 || p-dedup[len(dedup)-1] > 1e-9 {
			dedup = append(dedup, p)
		}
	}
	return dedup
}

// netPnLAt sums each leg's expiry value at the underlying price: intrinsic
// value signed by side, premium as credit for sells and debit for buys,
// scaled by lot quantity.
func netPnLAt(s models.Strategy, premiums map[models.LegKey]float64, price float64) float64 {
	total := 0.0
	for _, leg := range s.Legs {
		intrinsic := intrinsicValue(leg.OptionType, leg.Strike, price)
		premium := premiums[leg.Key()]
		perUnit := intrinsic - premium
		if leg.Side == models.SideSell {
			perUnit = premium - intrinsic
		}
		total += perUnit * float64(leg.Quantity)
	}
	return total
}

func intrinsicValue(typ models.OptionType, strike, price float64) float64 {
	switch typ {
	case models.OptionTypeCall:
		return math.Max(0, price-strike)
	case models.OptionTypePut:
		return math.Max(0, strike-price)
	default:
		return 0
	}
}

// findBreakevens locates the two prices where cumulative payoff crosses zero,
// interpolating linearly between adjacent evaluation points.
func findBreakevens(curve []models.PricePoint) ([2]float64, error) {
	var crossings []float64
	for i := 1; i < len(curve); i++ {
		prev, cur := curve[i-1], curve[i]
		switch {
		case prev.PnL == 0:
			crossings = appendCrossing(crossings, prev.Price)
		case prev.PnL*cur.PnL < 0:
			// Linear interpolation between the two bracketing points.
			t := prev.PnL / (prev.PnL - cur.PnL)
			crossings = appendCrossing(crossings, prev.Price+t*(cur.Price-prev.Price))
		}
	}
	if n := len(curve); n > 0 && curve[n-1].PnL == 0 {
		crossings = appendCrossing(crossings, curve[n-1].Price)
	}

	if len(crossings) < 2 {
		return [2]float64{}, fmt.Errorf("payoff has %d zero crossing(s), expected 2", len(crossings))
	}
	return [2]float64{crossings[0], crossings[len(crossings)-1]}, nil
}

func appendCrossing(crossings []float64, price float64) []float64 {
	if n := len(crossings); n > 0 && math.Abs(crossings[n-1]-price) <= 1e-9 {
		return crossings
	}
	return append(crossings, price)
}
