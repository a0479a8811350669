package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/trahn-botengine/internal/models"
)

// DCARemaining is the unspent part of the budget.
func DCARemaining(p models.DCAParams, st models.DCAState) float64 {
	return decimal.NewFromFloat(p.TotalBudget).Sub(decimal.NewFromFloat(st.Spent)).InexactFloat64()
}

// DCAExhausted reports whether another full order no longer fits the budget.
func DCAExhausted(p models.DCAParams, st models.DCAState) bool {
	return DCARemaining(p, st) < p.AmountPerInterval
}

// DCADue reports whether an interval has elapsed since the last order.
// A bot that never ordered is due immediately.
func DCADue(p models.DCAParams, st models.DCAState, now time.Time) (bool, error) {
	if st.LastOrderAt == nil {
		return true, nil
	}
	interval, err := models.ParseInterval(p.Interval)
	if err != nil {
		return false, err
	}
	return !now.Before(st.LastOrderAt.Add(interval)), nil
}

func DCATrigger(n int) string {
	return fmt.Sprintf("dca_interval:n=%d", n)
}

// DCAPlannedOrders is how many full orders the budget covers.
func DCAPlannedOrders(p models.DCAParams) int {
	if p.AmountPerInterval <= 0 {
		return 0
	}
	return int(decimal.NewFromFloat(p.TotalBudget).Div(decimal.NewFromFloat(p.AmountPerInterval)).Floor().IntPart())
}
