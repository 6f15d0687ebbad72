// Package models provides the core data structures shared across the engine:
// ticks, option contracts, chain snapshots, positions, strategies and payoff results.
package models

import (
	"fmt"
	"math"
	"time"
)

// StrikeMatchEpsilon defines the precision tolerance for matching strike prices.
const StrikeMatchEpsilon = 1e-4

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypeCall represents a call option contract.
	OptionTypeCall OptionType = "CALL"
	// OptionTypePut represents a put option contract.
	OptionTypePut OptionType = "PUT"
)

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	return t == OptionTypeCall || t == OptionTypePut
}

// Side represents the direction of a leg.
type Side string

const (
	// SideBuy opens a long leg.
	SideBuy Side = "BUY"
	// SideSell opens a short leg.
	SideSell Side = "SELL"
)

// Tick is one normalized market data update from the streaming feed.
// Immutable once constructed; never persisted by the engine.
type Tick struct {
	InstrumentKey string    `json:"instrument_key"`
	LastPrice     float64   `json:"last_price"`
	Volume        int64     `json:"volume"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Contract is an immutable snapshot of a single option contract within a chain.
type Contract struct {
	InstrumentKey string     `json:"instrument_key"`
	Strike        float64    `json:"strike"`
	OptionType    OptionType `json:"option_type"`
	Expiry        time.Time  `json:"expiry"`
	LastPrice     float64    `json:"last_price"`
	OpenInterest  int64      `json:"open_interest"`
	ImpliedVol    float64    `json:"implied_vol"`
}

// ChainSnapshot holds the full option chain for one expiry, ordered by strike.
// Contracts are copied out by value; callers never hold references into the
// cache's internal store.
type ChainSnapshot struct {
	Expiry    time.Time  `json:"expiry"`
	Contracts []Contract `json:"contracts"`
}

// Lookup finds the contract for a strike and option type. The second return
// value is false when no such contract exists in the snapshot.
func (c ChainSnapshot) Lookup(strike float64, optType OptionType) (Contract, bool) {
	for i := range c.Contracts {
		if c.Contracts[i].OptionType == optType &&
			math.Abs(c.Contracts[i].Strike-strike) <= StrikeMatchEpsilon {
			return c.Contracts[i], true
		}
	}
	return Contract{}, false
}

// Strikes returns the distinct strikes present in the snapshot, in ascending order.
func (c ChainSnapshot) Strikes() []float64 {
	var out []float64
	for i := range c.Contracts {
		s := c.Contracts[i].Strike
		if len(out) == 0 || math.Abs(out[len(out)-1]-s) > StrikeMatchEpsilon {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the snapshot invariants: no duplicate (strike, type) keys and
// strikes forming a strictly increasing sequence stepping by interval with no gaps.
// A non-positive interval skips the gap check.
func (c ChainSnapshot) Validate(interval float64) error {
	type key struct {
		strike int64
		typ    OptionType
	}
	seen := make(map[key]struct{}, len(c.Contracts))
	for i := range c.Contracts {
		ct := &c.Contracts[i]
		if !ct.OptionType.Valid() {
			return fmt.Errorf("contract %s: invalid option type %q", ct.InstrumentKey, ct.OptionType)
		}
		k := key{strike: int64(math.Round(ct.Strike / StrikeMatchEpsilon)), typ: ct.OptionType}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate contract for strike %.2f %s", ct.Strike, ct.OptionType)
		}
		seen[k] = struct{}{}
	}
	strikes := c.Strikes()
	for i := 1; i < len(strikes); i++ {
		step := strikes[i] - strikes[i-1]
		if step <= 0 {
			return fmt.Errorf("strikes not strictly increasing at %.2f", strikes[i])
		}
		if interval > 0 && math.Abs(step-interval) > StrikeMatchEpsilon {
			return fmt.Errorf("strike gap %.2f between %.2f and %.2f, expected %.2f",
				step, strikes[i-1], strikes[i], interval)
		}
	}
	return nil
}

// Position is one reconciled broker position row. Positions are always replaced
// wholesale from a fresh broker snapshot, never patched in place.
type Position struct {
	StrategyTag   string  `json:"strategy_tag"`
	InstrumentKey string  `json:"instrument_key"`
	Quantity      int     `json:"quantity"` // signed; negative = short
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Leg is one single-option component of a multi-leg strategy.
type Leg struct {
	OptionType OptionType `json:"option_type"`
	Strike     float64    `json:"strike"`
	Side       Side       `json:"side"`
	Quantity   int        `json:"quantity"`
}

// LegKey identifies a leg within a strategy. For a condor the (type, strike)
// pair is unique across all four legs.
type LegKey struct {
	OptionType OptionType
	Strike     float64
}

// Key returns the identity of the leg for premium lookups.
func (l Leg) Key() LegKey {
	return LegKey{OptionType: l.OptionType, Strike: l.Strike}
}

// Strategy is an assembled four-leg iron condor: short call and short put
// forming the body, with a long call and long put as protective wings.
type Strategy struct {
	Tag    string    `json:"tag"`
	Expiry time.Time `json:"expiry"`
	Legs   []Leg     `json:"legs"` // exactly 4: short call, long call, short put, long put
}

// CondorStrikes returns the four strikes in (shortCall, longCall, shortPut, longPut)
// order. It returns an error when the strategy does not have the condor shape.
func (s Strategy) CondorStrikes() (shortCall, longCall, shortPut, longPut float64, err error) {
	if len(s.Legs) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("strategy %s has %d legs, want 4", s.Tag, len(s.Legs))
	}
	var hasShortCall, hasLongCall, hasShortPut, hasLongPut bool
	for _, leg := range s.Legs {
		switch {
		case leg.OptionType == OptionTypeCall && leg.Side == SideSell:
			if hasShortCall {
				return 0, 0, 0, 0, fmt.Errorf("strategy %s is not a four-sided condor", s.Tag)
			}
			shortCall = leg.Strike
			hasShortCall = true
		case leg.OptionType == OptionTypeCall && leg.Side == SideBuy:
			if hasLongCall {
				return 0, 0, 0, 0, fmt.Errorf("strategy %s is not a four-sided condor", s.Tag)
			}
			longCall = leg.Strike
			hasLongCall = true
		case leg.OptionType == OptionTypePut && leg.Side == SideSell:
			if hasShortPut {
				return 0, 0, 0, 0, fmt.Errorf("strategy %s is not a four-sided condor", s.Tag)
			}
			shortPut = leg.Strike
			hasShortPut = true
		case leg.OptionType == OptionTypePut && leg.Side == SideBuy:
			if hasLongPut {
				return 0, 0, 0, 0, fmt.Errorf("strategy %s is not a four-sided condor", s.Tag)
			}
			longPut = leg.Strike
			hasLongPut = true
		}
	}
	if !hasShortCall || !hasLongCall || !hasShortPut || !hasLongPut {
		return 0, 0, 0, 0, fmt.Errorf("strategy %s is not a four-sided condor", s.Tag)
	}
	return shortCall, longCall, shortPut, longPut, nil
}

// Validate checks the condor invariants: four legs, shared expiry and lot
// quantity, shortCall > shortPut, longCall > shortCall and longPut < shortPut.
func (s Strategy) Validate() error {
	shortCall, longCall, shortPut, longPut, err := s.CondorStrikes()
	if err != nil {
		return err
	}
	qty := s.Legs[0].Quantity
	for _, leg := range s.Legs {
		if leg.Quantity <= 0 {
			return fmt.Errorf("leg %s %.2f: quantity must be positive", leg.OptionType, leg.Strike)
		}
		if leg.Quantity != qty {
			return fmt.Errorf("legs must share one lot quantity, got %d and %d", qty, leg.Quantity)
		}
	}
	if shortCall <= shortPut {
		return fmt.Errorf("short call %.2f must be above short put %.2f", shortCall, shortPut)
	}
	if longCall <= shortCall {
		return fmt.Errorf("long call %.2f must be above short call %.2f", longCall, shortCall)
	}
	if longPut >= shortPut {
		return fmt.Errorf("long put %.2f must be below short put %.2f", longPut, shortPut)
	}
	return nil
}

// PricePoint is one (price, pnl) sample on a payoff curve.
type PricePoint struct {
	Price float64 `json:"price"`
	PnL   float64 `json:"pnl"`
}

// PayoffResult is the derived payoff profile of a strategy. Immutable;
// recomputed from scratch on every evaluation.
type PayoffResult struct {
	MaxProfit  float64      `json:"max_profit"`
	MaxLoss    float64      `json:"max_loss"`
	Breakevens [2]float64   `json:"breakevens"`
	Curve      []PricePoint `json:"curve"`
}
