package strategy

import (
	"fmt"

	"github.com/kjannette/trahn-botengine/internal/models"
)

// ExitReason names why an open position should be closed. Empty means hold.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss_hit"
	ExitTakeProfit   ExitReason = "take_profit_hit"
	ExitTrailingStop ExitReason = "trailing_stop_hit"
)

// PnLPercent is the move from entry to price, in percent.
func PnLPercent(entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return (price - entry) / entry * 100
}

// CheckProtectiveExit applies stop loss, take profit and trailing stop, in that order.
// The returned trigger reason carries the measured move.
func CheckProtectiveExit(r models.RiskParams, pos models.Position, price float64) (ExitReason, string) {
	if !pos.Open || pos.EntryPrice <= 0 {
		return "", ""
	}
	pnl := PnLPercent(pos.EntryPrice, price)
	if r.StopLossPercent > 0 && pnl <= -r.StopLossPercent {
		return ExitStopLoss, fmt.Sprintf("%s:breach=%.1f%%", ExitStopLoss, pnl)
	}
	if r.TakeProfitPercent > 0 && pnl >= r.TakeProfitPercent {
		return ExitTakeProfit, fmt.Sprintf("%s:gain=%.1f%%", ExitTakeProfit, pnl)
	}
	if r.TrailingStopPercent > 0 && pos.PeakPrice > 0 {
		drop := (pos.PeakPrice - price) / pos.PeakPrice * 100
		if drop >= r.TrailingStopPercent {
			return ExitTrailingStop, fmt.Sprintf("%s:drop=%.1f%%", ExitTrailingStop, drop)
		}
	}
	return "", ""
}

func EntryTrigger(summary string) string { return "entry_rule:" + summary }

func ExitTrigger(summary string) string { return "exit_rule:" + summary }
