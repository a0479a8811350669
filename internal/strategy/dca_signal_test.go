package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-botengine/internal/models"
)

func TestDCADueAndBudget(t *testing.T) {
	p := models.DCAParams{AmountPerInterval: 100, TotalBudget: 300, Interval: "daily"}
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	due, err := DCADue(p, models.DCAState{}, now)
	require.NoError(t, err)
	assert.True(t, due, "first order is due immediately")

	last := now
	st := models.DCAState{Spent: 100, LastOrderAt: &last}
	due, _ = DCADue(p, st, now.Add(23*time.Hour))
	assert.False(t, due)
	due, _ = DCADue(p, st, now.Add(24*time.Hour))
	assert.True(t, due)

	assert.Equal(t, 200.0, DCARemaining(p, st))
	assert.False(t, DCAExhausted(p, st))
	assert.True(t, DCAExhausted(p, models.DCAState{Spent: 300}))
	assert.True(t, DCAExhausted(p, models.DCAState{Spent: 250}))
	assert.Equal(t, 3, DCAPlannedOrders(p))
	assert.Equal(t, "dca_interval:n=2", DCATrigger(2))
}

func TestParseIntervalRejectsGarbage(t *testing.T) {
	_, err := models.ParseInterval("fortnightly")
	assert.Error(t, err)
	_, err = models.ParseInterval("10s")
	assert.Error(t, err)
	d, err := models.ParseInterval("6h")
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, d)
}

func TestCheckProtectiveExit(t *testing.T) {
	r := models.RiskParams{StopLossPercent: 3, TakeProfitPercent: 5, TrailingStopPercent: 2}
	pos := models.Position{Open: true, EntryPrice: 100, Quantity: 1, PeakPrice: 104}

	reason, trigger := CheckProtectiveExit(r, pos, 96.8)
	assert.Equal(t, ExitStopLoss, reason)
	assert.Equal(t, "stop_loss_hit:breach=-3.2%", trigger)

	reason, trigger = CheckProtectiveExit(r, pos, 105)
	assert.Equal(t, ExitTakeProfit, reason)
	assert.Equal(t, "take_profit_hit:gain=5.0%", trigger)

	reason, _ = CheckProtectiveExit(r, pos, 101.9)
	assert.Equal(t, ExitTrailingStop, reason)

	reason, _ = CheckProtectiveExit(r, pos, 103)
	assert.Empty(t, reason)

	reason, _ = CheckProtectiveExit(r, models.Position{}, 50)
	assert.Empty(t, reason, "no position, nothing to exit")
}

func TestPreview(t *testing.T) {
	est, err := Preview(models.BotTypeGrid, "BTCUSD", models.BotParams{Grid: &models.GridParams{
		LowerPrice: 80000, UpperPrice: 100000, GridCount: 10, InvestmentAmount: 1000, Spacing: models.SpacingArithmetic,
	}}, 0.001)
	require.NoError(t, err)
	assert.Equal(t, 10, est.EstimatedOrders)
	assert.Equal(t, 100.0, est.OrderAmount)
	assert.Equal(t, 1.0, est.EstimatedFees)
	assert.Len(t, est.Levels, 10)
	require.NotNil(t, est.PriceRange)
	assert.Equal(t, [2]float64{80000, 100000}, *est.PriceRange)

	est, err = Preview(models.BotTypeDCA, "BTCUSD", models.BotParams{DCA: &models.DCAParams{
		AmountPerInterval: 100, TotalBudget: 350, Interval: "weekly",
	}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, est.EstimatedOrders)
	assert.Equal(t, 300.0, est.CapitalRequired)

	_, err = Preview(models.BotTypeSignal, "BTCUSD", models.BotParams{DCA: &models.DCAParams{}}, 0)
	assert.Error(t, err, "mismatched variant")
}
