package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/trahn-botengine/internal/models"
	"github.com/kjannette/trahn-botengine/internal/strategy"
)

// Fill is what the venue reported for a placed order.
type Fill struct {
	OrderID  string
	Price    float64
	Quantity float64
	Fee      float64 // quote currency
	Filled   bool    // false when the order rests on the book
}

// ApplyFill commits a placed order to the runtime state. It returns the realized P&L of
// this order and, when the order leaves the bot unable to continue, an auto-stop reason.
func (e *Engine) ApplyFill(bot *models.Bot, dec Decision, fill Fill, now time.Time) (pnlDelta float64, autoStop string) {
	rt := &bot.Runtime
	in := dec.Intent
	ts := now

	rt.TotalOrdersPlaced++
	rt.LastTradeAt = &ts
	rt.LastEntryTriggered = dec.Trigger
	rt.RiskStatus = models.RiskOK
	rt.Daily = rt.DailyFor(models.TradingDay(now, e.cutoffHour))
	rt.Daily.Trades++

	if !fill.Filled {
		rt.OpenOrders++
		if fill.OrderID != "" {
			rt.Resting = append(rt.Resting, models.RestingOrder{
				OrderID:  fill.OrderID,
				Side:     in.Side,
				Amount:   in.Amount,
				Price:    fill.Price,
				Quantity: fill.Quantity,
				Trigger:  dec.Trigger,
				PlacedAt: ts,
			})
		}
	} else {
		pnlDelta = applyInventory(rt, in.Side, fill)
		rt.RealizedPnL = addf(rt.RealizedPnL, pnlDelta)
		rt.Daily.RealizedPnL = addf(rt.Daily.RealizedPnL, pnlDelta)
	}

	switch bot.Type {
	case models.BotTypeGrid:
		rt.Grid.LastLevel = in.Level
		rt.Grid.LastSide = in.Side
		if rt.LastPrice > 0 {
			rt.Grid.ReferencePrice = rt.LastPrice
		}
	case models.BotTypeDCA:
		rt.DCA.Spent = addf(rt.DCA.Spent, in.Amount)
		rt.DCA.Orders++
		rt.DCA.LastOrderAt = &ts
		if strategy.DCAExhausted(*bot.Params.DCA, rt.DCA) {
			autoStop = "budget_exhausted"
		}
	case models.BotTypeSignal:
		if in.Side == models.SideBuy {
			price := fill.Price
			if price <= 0 {
				price = in.Price
			}
			qty := fill.Quantity
			if qty <= 0 {
				qty = in.Quantity
			}
			rt.Position = models.Position{Open: true, EntryPrice: price, Quantity: qty, PeakPrice: price, OpenedAt: &ts}
		} else {
			rt.Position = models.Position{}
		}
	}
	return pnlDelta, autoStop
}

// Settle closes out a resting order once the venue reports it filled or cancelled.
// A fill moves inventory and P&L the way an immediate fill would have. A cancel
// undoes what placement committed: DCA spend and a signal entry's position.
// It reports false when orderID is not resting on the bot.
func (e *Engine) Settle(bot *models.Bot, orderID string, fill Fill, now time.Time) (pnlDelta float64, ok bool) {
	rt := &bot.Runtime
	idx := -1
	for i, o := range rt.Resting {
		if o.OrderID == orderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, false
	}
	order := rt.Resting[idx]
	rt.Resting = append(rt.Resting[:idx:idx], rt.Resting[idx+1:]...)
	if rt.OpenOrders > 0 {
		rt.OpenOrders--
	}

	if !fill.Filled {
		switch bot.Type {
		case models.BotTypeDCA:
			rt.DCA.Spent = max(0, addf(rt.DCA.Spent, -order.Amount))
			if rt.DCA.Orders > 0 {
				rt.DCA.Orders--
			}
		case models.BotTypeSignal:
			if order.Side == models.SideBuy {
				rt.Position = models.Position{}
			} else if rt.BaseHeld > 0 {
				// the exit never happened; the held inventory is still the position
				rt.Position = models.Position{Open: true, EntryPrice: rt.AvgCost, Quantity: rt.BaseHeld, PeakPrice: rt.AvgCost}
			}
		}
		return 0, true
	}

	pnlDelta = applyInventory(rt, order.Side, fill)
	rt.RealizedPnL = addf(rt.RealizedPnL, pnlDelta)
	rt.Daily = rt.DailyFor(models.TradingDay(now, e.cutoffHour))
	rt.Daily.RealizedPnL = addf(rt.Daily.RealizedPnL, pnlDelta)
	if bot.Type == models.BotTypeSignal && order.Side == models.SideBuy && rt.Position.Open {
		rt.Position.EntryPrice = fill.Price
		rt.Position.Quantity = fill.Quantity
		rt.Position.PeakPrice = max(rt.Position.PeakPrice, fill.Price)
	}
	return pnlDelta, true
}

// applyInventory tracks base held at average cost and returns realized P&L net of fees.
func applyInventory(rt *models.RuntimeState, side models.Side, fill Fill) float64 {
	price := decimal.NewFromFloat(fill.Price)
	qty := decimal.NewFromFloat(fill.Quantity)
	fee := decimal.NewFromFloat(fill.Fee)
	held := decimal.NewFromFloat(rt.BaseHeld)
	avg := decimal.NewFromFloat(rt.AvgCost)

	if side == models.SideBuy {
		newHeld := held.Add(qty)
		if newHeld.IsPositive() {
			avg = avg.Mul(held).Add(price.Mul(qty)).Add(fee).Div(newHeld)
		}
		rt.BaseHeld = newHeld.InexactFloat64()
		rt.AvgCost = avg.InexactFloat64()
		return 0
	}

	sold := decimal.Min(qty, held)
	pnl := price.Sub(avg).Mul(sold).Sub(fee)
	remaining := held.Sub(sold)
	rt.BaseHeld = remaining.InexactFloat64()
	if !remaining.IsPositive() {
		rt.BaseHeld = 0
		rt.AvgCost = 0
	}
	return pnl.Round(8).InexactFloat64()
}

func addf(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).InexactFloat64()
}
