package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/broker"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/mock"
)

func trippySettings() broker.CircuitBreakerSettings {
	return broker.CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 1.0,
	}
}

func TestCircuitBreaker_PassesThroughOnSuccess(t *testing.T) {
	inner := &mock.Broker{Spot: 24850}
	cb := broker.NewCircuitBreakerBroker(inner)

	spot, err := cb.GetSpotPrice(context.Background(), "NSE_INDEX|Nifty 50")
	require.NoError(t, err)
	assert.Equal(t, 24850.0, spot)

	positions, err := cb.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestCircuitBreaker_OpensAfterRepeatedFailures(t *testing.T) {
	inner := &mock.Broker{
		SpotErr: broker.NewFetchError(broker.FetchTransient, "spot", assert.AnError),
	}
	cb := broker.NewCircuitBreakerBrokerWithSettings(inner, trippySettings())

	for i := 0; i < 3; i++ {
		_, err := cb.GetSpotPrice(context.Background(), "k")
		require.Error(t, err)
	}

	_, err := cb.GetSpotPrice(context.Background(), "k")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState, "breaker should be open after the failure run")
}

func TestCircuitBreaker_OpenBreakerSkipsUnderlyingCalls(t *testing.T) {
	inner := &mock.Broker{
		ChainErr: broker.NewFetchError(broker.FetchTransient, "chain", assert.AnError),
	}
	cb := broker.NewCircuitBreakerBrokerWithSettings(inner, trippySettings())

	expiry := time.Date(2025, time.September, 9, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, _ = cb.GetOptionChain(context.Background(), expiry)
	}
	callsWhenOpened := inner.ChainCalls

	_, err := cb.GetOptionChain(context.Background(), expiry)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, callsWhenOpened, inner.ChainCalls, "open breaker must fail fast without calling the broker")
}

func TestCircuitBreaker_BelowMinRequestsStaysClosed(t *testing.T) {
	inner := &mock.Broker{
		SpotErr: broker.NewFetchError(broker.FetchTransient, "spot", assert.AnError),
	}
	cb := broker.NewCircuitBreakerBrokerWithSettings(inner, trippySettings())

	for i := 0; i < 2; i++ {
		_, _ = cb.GetSpotPrice(context.Background(), "k")
	}

	_, err := cb.GetSpotPrice(context.Background(), "k")
	assert.NotErrorIs(t, err, gobreaker.ErrOpenState, "two failures are below the trip threshold")
}
