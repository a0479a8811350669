package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kjannette/trahn-botengine/internal/models"
)

// Estimate is the dry-run summary shown before a bot is created.
type Estimate struct {
	Type            models.BotType `json:"type"`
	Pair            string         `json:"pair"`
	EstimatedOrders int            `json:"estimatedOrders"`
	OrderAmount     float64        `json:"orderAmount"`
	CapitalRequired float64        `json:"capitalRequired"`
	EstimatedFees   float64        `json:"estimatedFees"`
	PriceRange      *[2]float64    `json:"priceRange,omitempty"`
	Levels          []GridLevel    `json:"levels,omitempty"`
	Interval        string         `json:"interval,omitempty"`
	Timeframe       string         `json:"timeframe,omitempty"`
}

// Preview is pure: no bot is created and nothing is persisted.
func Preview(t models.BotType, pair string, p models.BotParams, feeRate float64) (Estimate, error) {
	if p.Kind() != t {
		return Estimate{}, fmt.Errorf("params do not match bot type %q", t)
	}
	est := Estimate{Type: t, Pair: pair}
	switch t {
	case models.BotTypeGrid:
		g := *p.Grid
		levels, err := CalculateGridLevels(g)
		if err != nil {
			return Estimate{}, err
		}
		est.Levels = levels
		est.EstimatedOrders = g.GridCount
		est.OrderAmount = g.OrderAmount()
		est.CapitalRequired = g.InvestmentAmount
		est.PriceRange = &[2]float64{g.LowerPrice, g.UpperPrice}
	case models.BotTypeDCA:
		d := *p.DCA
		if err := d.Validate(); err != nil {
			return Estimate{}, err
		}
		est.EstimatedOrders = DCAPlannedOrders(d)
		est.OrderAmount = d.AmountPerInterval
		est.CapitalRequired = d.AmountPerInterval * float64(est.EstimatedOrders)
		est.Interval = d.Interval
	case models.BotTypeSignal:
		s := *p.Signal
		if err := s.Validate(); err != nil {
			return Estimate{}, err
		}
		// one round trip: entry plus exit
		est.EstimatedOrders = 2
		est.OrderAmount = s.OrderAmount
		est.CapitalRequired = s.OrderAmount
		est.Timeframe = s.Timeframe
	}
	est.EstimatedFees = decimal.NewFromFloat(est.OrderAmount).
		Mul(decimal.NewFromInt(int64(est.EstimatedOrders))).
		Mul(decimal.NewFromFloat(feeRate)).
		Round(8).InexactFloat64()
	return est, nil
}
