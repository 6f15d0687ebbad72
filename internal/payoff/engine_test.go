package payoff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

// testCondor builds a one-lot condor 24450/25250 body with 400-point wings.
func testCondor() models.Strategy {
	expiry := time.Date(2025, time.September, 9, 0, 0, 0, 0, time.UTC)
	return models.Strategy{
		Tag:    "condor-test",
		Expiry: expiry,
		Legs: []models.Leg{
			{OptionType: models.OptionTypeCall, Strike: 25250, Side: models.SideSell, Quantity: 1},
			{OptionType: models.OptionTypeCall, Strike: 25650, Side: models.SideBuy, Quantity: 1},
			{OptionType: models.OptionTypePut, Strike: 24450, Side: models.SideSell, Quantity: 1},
			{OptionType: models.OptionTypePut, Strike: 24050, Side: models.SideBuy, Quantity: 1},
		},
	}
}

// testPremiums yields a net credit of 90+85-30-25 = 120 points per lot.
func testPremiums() map[models.LegKey]float64 {
	return map[models.LegKey]float64{
		{OptionType: models.OptionTypeCall, Strike: 25250}: 90,
		{OptionType: models.OptionTypeCall, Strike: 25650}: 30,
		{OptionType: models.OptionTypePut, Strike: 24450}:  85,
		{OptionType: models.OptionTypePut, Strike: 24050}:  25,
	}
}

const netCredit = 90.0 + 85.0 - 30.0 - 25.0 // 120
const wingWidth = 400.0

func testRange() PriceRange {
	return PriceRange{Low: 23500, High: 26200, Step: 50}
}

func TestEvaluate_MaxProfitIsNetCredit(t *testing.T) {
	result, err := Evaluate(testCondor(), testPremiums(), testRange())
	require.NoError(t, err)
	assert.InDelta(t, netCredit, result.MaxProfit, 1e-9,
		"max profit of a credit condor equals total credit collected")
}

func TestEvaluate_MaxLossIsWingMinusCredit(t *testing.T) {
	result, err := Evaluate(testCondor(), testPremiums(), testRange())
	require.NoError(t, err)
	assert.InDelta(t, -(wingWidth - netCredit), result.MaxLoss, 1e-9,
		"max loss beyond the wings is wing width minus credit")
}

func TestEvaluate_FlatProfitBetweenShortStrikes(t *testing.T) {
	result, err := Evaluate(testCondor(), testPremiums(), testRange())
	require.NoError(t, err)
	for _, pt := range result.Curve {
		if pt.Price >= 24450 && pt.Price <= 25250 {
			assert.InDeltaf(t, netCredit, pt.PnL, 1e-9,
				"payoff at %.2f should equal full credit", pt.Price)
		}
	}
}

func TestEvaluate_Breakevens(t *testing.T) {
	result, err := Evaluate(testCondor(), testPremiums(), testRange())
	require.NoError(t, err)
	assert.InDelta(t, 24450-netCredit, result.Breakevens[0], 1e-6) // 24330
	assert.InDelta(t, 25250+netCredit, result.Breakevens[1], 1e-6) // 25370
	assert.Less(t, result.Breakevens[0], result.Breakevens[1])
}

func TestEvaluate_Idempotent(t *testing.T) {
	first, err := Evaluate(testCondor(), testPremiums(), testRange())
	require.NoError(t, err)
	second, err := Evaluate(testCondor(), testPremiums(), testRange())
	require.NoError(t, err)
	assert.Equal(t, first, second, "evaluation must be a pure function of its inputs")
}

func TestEvaluate_StrikesEvaluatedExactly(t *testing.T) {
	// A coarse grid that skips every strike: corners must still be present.
	r := PriceRange{Low: 23512, High: 26212, Step: 300}
	result, err := Evaluate(testCondor(), testPremiums(), r)
	require.NoError(t, err)

	strikes := []float64{24050, 24450, 25250, 25650}
	for _, strike := range strikes {
		found := false
		for _, pt := range result.Curve {
			if math.Abs(pt.Price-strike) < 1e-9 {
				found = true
				break
			}
		}
		assert.Truef(t, found, "grid must include kink at strike %.0f", strike)
	}
	assert.InDelta(t, netCredit, result.MaxProfit, 1e-9,
		"corner clipping: max profit must be exact even on a coarse grid")
}

func TestEvaluate_QuantityScalesPnL(t *testing.T) {
	s := testCondor()
	for i := range s.Legs {
		s.Legs[i].Quantity = 75
	}
	result, err := Evaluate(s, testPremiums(), testRange())
	require.NoError(t, err)
	assert.InDelta(t, netCredit*75, result.MaxProfit, 1e-6)
	assert.InDelta(t, -(wingWidth-netCredit)*75, result.MaxLoss, 1e-6)
}

func TestEvaluate_MissingPremium(t *testing.T) {
	premiums := testPremiums()
	delete(premiums, models.LegKey{OptionType: models.OptionTypePut, Strike: 24050})
	_, err := Evaluate(testCondor(), premiums, testRange())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing premium")
}

func TestEvaluate_InvalidRange(t *testing.T) {
	_, err := Evaluate(testCondor(), testPremiums(), PriceRange{Low: 25000, High: 24000, Step: 50})
	require.Error(t, err)
	_, err = Evaluate(testCondor(), testPremiums(), PriceRange{Low: 24000, High: 25000, Step: 0})
	require.Error(t, err)
}

func TestEvaluate_InvalidStrategy(t *testing.T) {
	s := testCondor()
	s.Legs = s.Legs[:3]
	_, err := Evaluate(s, testPremiums(), testRange())
	require.Error(t, err)
}

func TestRangeAround_SpansAllStrikes(t *testing.T) {
	r := RangeAround(testCondor(), 400, 50)
	assert.Equal(t, 24050.0-400, r.Low)
	assert.Equal(t, 25650.0+400, r.High)
	assert.Equal(t, 50.0, r.Step)
}
