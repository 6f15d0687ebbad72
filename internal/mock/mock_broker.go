// Package mock provides canned broker data and a scriptable Broker
// implementation for tests and paper-mode dry runs.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/broker"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

// Broker is a scriptable in-memory Broker implementation. Zero values behave
// like an empty, healthy brokerage account.
type Broker struct {
	mu sync.Mutex

	Positions    []broker.RawPosition
	PositionsErr error

	Spot    float64
	SpotErr error

	Chain    models.ChainSnapshot
	ChainErr error
	// ChainErrs are consumed one per GetOptionChain call before ChainErr /
	// Chain apply, for scripting transient-then-success sequences.
	ChainErrs []error

	TradeID  string
	OrderErr error

	ChainCalls int
	OrderCalls int
	LastTag    string
	LastOrder  models.Strategy
}

// Ensure Broker implements broker.Broker at compile time.
var _ broker.Broker = (*Broker)(nil)

// GetPositions returns the scripted position snapshot.
func (m *Broker) GetPositions(_ context.Context) ([]broker.RawPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	out := make([]broker.RawPosition, len(m.Positions))
	copy(out, m.Positions)
	return out, nil
}

// GetSpotPrice returns the scripted spot price.
func (m *Broker) GetSpotPrice(_ context.Context, _ string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SpotErr != nil {
		return 0, m.SpotErr
	}
	return m.Spot, nil
}

// GetOptionChain returns the scripted chain, consuming queued errors first.
func (m *Broker) GetOptionChain(_ context.Context, _ time.Time) (models.ChainSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChainCalls++
	if len(m.ChainErrs) > 0 {
		err := m.ChainErrs[0]
		m.ChainErrs = m.ChainErrs[1:]
		return models.ChainSnapshot{}, err
	}
	if m.ChainErr != nil {
		return models.ChainSnapshot{}, m.ChainErr
	}
	return m.Chain, nil
}

// PlaceMultiLegOrder records the order and returns the scripted trade id.
func (m *Broker) PlaceMultiLegOrder(_ context.Context, strategy models.Strategy, tag string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OrderCalls++
	m.LastTag = tag
	m.LastOrder = strategy
	if m.OrderErr != nil {
		return "", m.OrderErr
	}
	if m.TradeID != "" {
		return m.TradeID, nil
	}
	return fmt.Sprintf("mock-order-%d", m.OrderCalls), nil
}

// NiftyChain builds a contiguous NIFTY-style chain snapshot with both calls
// and puts at every strike from low to high inclusive, stepping by interval.
func NiftyChain(expiry time.Time, low, high, interval float64) models.ChainSnapshot {
	snap := models.ChainSnapshot{Expiry: expiry}
	for strike := low; strike <= high; strike += interval {
		// Rough synthetic premiums: calls cheapen and puts richen as strike rises.
		callPrice := (high - strike) / interval * 8
		putPrice := (strike - low) / interval * 8
		snap.Contracts = append(snap.Contracts,
			models.Contract{
				InstrumentKey: fmt.Sprintf("NSE_FO|NIFTY-%0.f-CE", strike),
				Strike:        strike,
				OptionType:    models.OptionTypeCall,
				Expiry:        expiry,
				LastPrice:     callPrice,
				OpenInterest:  100_000,
				ImpliedVol:    12.5,
			},
			models.Contract{
				InstrumentKey: fmt.Sprintf("NSE_FO|NIFTY-%0.f-PE", strike),
				Strike:        strike,
				OptionType:    models.OptionTypePut,
				Expiry:        expiry,
				LastPrice:     putPrice,
				OpenInterest:  100_000,
				ImpliedVol:    13.0,
			},
		)
	}
	return snap
}

// WithoutStrike returns a copy of the snapshot with the given (strike, type)
// contract removed, for exercising missing-strike selection failures.
func WithoutStrike(snap models.ChainSnapshot, strike float64, typ models.OptionType) models.ChainSnapshot {
	out := models.ChainSnapshot{Expiry: snap.Expiry}
	for _, c := range snap.Contracts {
		if c.OptionType == typ && c.Strike == strike {
			continue
		}
		out.Contracts = append(out.Contracts, c)
	}
	return out
}
