// Package broker provides collaborator interfaces and API clients for the
// brokerage: position snapshots, spot quotes, option chains and multi-leg
// order placement.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

// RawPosition is one position row exactly as the broker reports it, before
// reconciliation into models.Position.
type RawPosition struct {
	OrderTag      string  `json:"order_tag"`
	InstrumentKey string  `json:"instrument_token"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	RealizedPnL   float64 `json:"realised"`
	UnrealizedPnL float64 `json:"unrealised"`
}

// Broker defines the collaborator surface the decision cycle depends on.
// Every call takes a context; timeouts are applied by the caller per operation.
type Broker interface {
	// GetPositions returns a fresh snapshot of all broker positions.
	GetPositions(ctx context.Context) ([]RawPosition, error)

	// GetSpotPrice returns the last traded price of the underlying index.
	GetSpotPrice(ctx context.Context, instrumentKey string) (float64, error)

	// GetOptionChain returns the full option chain for one expiry.
	GetOptionChain(ctx context.Context, expiry time.Time) (models.ChainSnapshot, error)

	// PlaceMultiLegOrder submits all four legs of the strategy as one basket
	// under the given tag and returns the broker trade id. Invoked at most once
	// per decision cycle and never retried.
	PlaceMultiLegOrder(ctx context.Context, strategy models.Strategy, tag string) (string, error)
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so a
// flapping brokerage API fails fast instead of stacking up timed-out calls.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]RawPosition, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]RawPosition, error) {
		return b.GetPositions(ctx)
	})
}

// GetSpotPrice wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetSpotPrice(ctx context.Context, instrumentKey string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetSpotPrice(ctx, instrumentKey)
	})
}

// GetOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, expiry time.Time) (models.ChainSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (models.ChainSnapshot, error) {
		return b.GetOptionChain(ctx, expiry)
	})
}

// PlaceMultiLegOrder wraps the underlying broker call with circuit breaker.
// A tripped breaker surfaces as an order error, never as a silent retry.
func (c *CircuitBreakerBroker) PlaceMultiLegOrder(ctx context.Context, strategy models.Strategy, tag string) (string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (string, error) {
		return b.PlaceMultiLegOrder(ctx, strategy, tag)
	})
}
