package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/kjannette/trahn-botengine/internal/conditions"
	"github.com/kjannette/trahn-botengine/internal/models"
	"github.com/kjannette/trahn-botengine/internal/risk"
	"github.com/kjannette/trahn-botengine/internal/strategy"
)

// Intent is an order the strategy wants placed.
type Intent struct {
	Side     models.Side
	Amount   float64 // quote currency
	Price    float64
	Quantity float64
	Opens    bool
	Level    int // grid level, 0 otherwise
}

// Decision is the outcome of one tick before any order reaches the venue.
type Decision struct {
	Outcome   models.Outcome // trade (order to place), no_action or blocked
	Intent    *Intent
	Trigger   string
	RiskCheck string
	Evidence  []models.Evidence
	// AutoStop is set when the bot should stop at the end of this tick.
	AutoStop string
}

func noAction(trigger string) Decision {
	return Decision{Outcome: models.OutcomeNoAction, Trigger: trigger, RiskCheck: models.RiskCheckNA}
}

// Decide dispatches one tick for a running bot. It updates tick bookkeeping on bot.Runtime
// (last price, grid reference, trailing peak, daily rollover) but never fill-dependent state.
// A returned error is a Fault.
func (e *Engine) Decide(bot *models.Bot, snap models.MarketSnapshot, ctl risk.Controls, now time.Time) (Decision, error) {
	if bot.Status != models.StatusRunning {
		return Decision{}, &Fault{BotID: bot.ID, Operation: "decide", Err: fmt.Errorf("bot is %s", bot.Status)}
	}
	if bot.Params.Kind() != bot.Type {
		return Decision{}, &Fault{BotID: bot.ID, Operation: "decide", Err: fmt.Errorf("params do not match type %s", bot.Type)}
	}

	rt := &bot.Runtime
	rt.Daily = rt.DailyFor(models.TradingDay(now, e.cutoffHour))
	rt.LastPrice = snap.Price
	ts := now
	rt.LastTickAt = &ts

	var (
		dec Decision
		err error
	)
	switch bot.Type {
	case models.BotTypeGrid:
		dec, err = e.decideGrid(bot, snap)
	case models.BotTypeDCA:
		dec, err = e.decideDCA(bot, snap, now)
	case models.BotTypeSignal:
		dec = e.decideSignal(bot, snap)
	}
	if err != nil {
		return Decision{}, &Fault{BotID: bot.ID, Operation: "decide", Err: err}
	}

	if dec.Intent != nil {
		gate := e.guard.Check(bot, risk.Order{Side: dec.Intent.Side, Amount: dec.Intent.Amount, Opens: dec.Intent.Opens}, ctl, now)
		dec.RiskCheck = gate.RiskCheck()
		if gate.Allowed {
			dec.Outcome = models.OutcomeTrade
		} else {
			dec.Outcome = models.OutcomeBlocked
			rt.RiskStatus = models.RiskBlocked
		}
	}
	return dec, nil
}

func (e *Engine) decideGrid(bot *models.Bot, snap models.MarketSnapshot) (Decision, error) {
	p := *bot.Params.Grid
	rt := &bot.Runtime
	levels, err := strategy.CalculateGridLevels(p)
	if err != nil {
		return Decision{}, err
	}

	// A blocked or failed crossing keeps the old reference; ApplyFill moves it once
	// the order is placed.
	ref := rt.Grid.ReferencePrice
	if ref <= 0 {
		rt.Grid.ReferencePrice = snap.Price
		return noAction(fmt.Sprintf("grid_reference_set:price=%.2f", snap.Price)), nil
	}

	if reason, trigger := e.positionBreaker(bot, snap.Price); reason != "" {
		rt.Grid.ReferencePrice = snap.Price
		dec := noAction(trigger)
		dec.AutoStop = reason
		return dec, nil
	}

	lvl, dir := strategy.FindCrossedLevel(levels, ref, snap.Price)
	if lvl == nil {
		rt.Grid.ReferencePrice = snap.Price
		if strategy.IsPriceOutsideGrid(snap.Price, levels) {
			return noAction(fmt.Sprintf("grid_out_of_range:price=%.2f", snap.Price)), nil
		}
		return noAction(fmt.Sprintf("grid_no_cross:price=%.2f", snap.Price)), nil
	}

	side := strategy.SideFor(dir)
	trigger := strategy.GridTrigger(lvl.Index, dir)
	if lvl.Index == rt.Grid.LastLevel && side == rt.Grid.LastSide {
		rt.Grid.ReferencePrice = snap.Price
		return noAction("grid_duplicate_suppressed:" + trigger[len("grid_level_cross:"):]), nil
	}

	amount := p.OrderAmount()
	return Decision{
		Trigger: trigger,
		Intent: &Intent{
			Side:     side,
			Amount:   amount,
			Price:    lvl.Price,
			Quantity: strategy.OrderQuantity(amount, lvl.Price),
			Opens:    side == models.SideBuy,
			Level:    lvl.Index,
		},
	}, nil
}

func (e *Engine) decideDCA(bot *models.Bot, snap models.MarketSnapshot, now time.Time) (Decision, error) {
	p := *bot.Params.DCA
	rt := &bot.Runtime

	if strategy.DCAExhausted(p, rt.DCA) {
		dec := noAction(fmt.Sprintf("dca_budget_exhausted:remaining=%.2f", strategy.DCARemaining(p, rt.DCA)))
		dec.AutoStop = "budget_exhausted"
		return dec, nil
	}
	if reason, trigger := e.positionBreaker(bot, snap.Price); reason != "" {
		dec := noAction(trigger)
		dec.AutoStop = reason
		return dec, nil
	}

	due, err := strategy.DCADue(p, rt.DCA, now)
	if err != nil {
		return Decision{}, err
	}
	if !due {
		interval, _ := models.ParseInterval(p.Interval)
		next := rt.DCA.LastOrderAt.Add(interval)
		return noAction("dca_waiting:next=" + next.UTC().Format(time.RFC3339)), nil
	}

	side := p.OrderSide()
	qty := strategy.OrderQuantity(p.AmountPerInterval, snap.Price)
	if side == models.SideSell {
		qty = math.Min(qty, rt.BaseHeld)
		if qty <= 0 {
			return noAction("dca_nothing_to_sell"), nil
		}
	}
	return Decision{
		Trigger: strategy.DCATrigger(rt.DCA.Orders + 1),
		Intent: &Intent{
			Side:     side,
			Amount:   p.AmountPerInterval,
			Price:    snap.Price,
			Quantity: qty,
			Opens:    side == models.SideBuy,
		},
	}, nil
}

func (e *Engine) decideSignal(bot *models.Bot, snap models.MarketSnapshot) Decision {
	p := *bot.Params.Signal
	rt := &bot.Runtime
	r := e.guard.Effective(bot.RiskOrZero())

	if !rt.Position.Open {
		res := conditions.Evaluate(p.Entry.WithDefaultTimeframe(p.Timeframe), snap)
		if res.Verdict != models.VerdictTrue {
			dec := noAction(fmt.Sprintf("entry_rule_%s:%s", verdictWord(res.Verdict), res.Summary))
			dec.Evidence = res.Evidence
			return dec
		}
		return Decision{
			Trigger:  strategy.EntryTrigger(res.Summary),
			Evidence: res.Evidence,
			Intent: &Intent{
				Side:     models.SideBuy,
				Amount:   p.OrderAmount,
				Price:    snap.Price,
				Quantity: strategy.OrderQuantity(p.OrderAmount, snap.Price),
				Opens:    true,
			},
		}
	}

	if snap.Price > rt.Position.PeakPrice {
		rt.Position.PeakPrice = snap.Price
	}
	exit := func(trigger string, ev []models.Evidence) Decision {
		return Decision{
			Trigger:  trigger,
			Evidence: ev,
			Intent: &Intent{
				Side:     models.SideSell,
				Amount:   rt.Position.Quantity * snap.Price,
				Price:    snap.Price,
				Quantity: rt.Position.Quantity,
			},
		}
	}

	if reason, trigger := strategy.CheckProtectiveExit(r, rt.Position, snap.Price); reason != "" {
		return exit(trigger, nil)
	}
	if p.Exit.Empty() {
		return noAction(fmt.Sprintf("holding:pnl=%.1f%%", strategy.PnLPercent(rt.Position.EntryPrice, snap.Price)))
	}
	res := conditions.Evaluate(p.Exit.WithDefaultTimeframe(p.Timeframe), snap)
	if res.Verdict == models.VerdictTrue {
		return exit(strategy.ExitTrigger(res.Summary), res.Evidence)
	}
	dec := noAction(fmt.Sprintf("exit_rule_%s:%s", verdictWord(res.Verdict), res.Summary))
	dec.Evidence = res.Evidence
	return dec
}

// positionBreaker checks grid and DCA holdings against the bot's stop loss and take profit.
func (e *Engine) positionBreaker(bot *models.Bot, price float64) (string, string) {
	rt := bot.Runtime
	if rt.BaseHeld <= 0 || rt.AvgCost <= 0 {
		return "", ""
	}
	pnl := strategy.PnLPercent(rt.AvgCost, price)
	err := e.guard.PortfolioCheck(e.guard.Effective(bot.RiskOrZero()), pnl)
	be, ok := err.(*risk.BreakerError)
	if !ok {
		return "", ""
	}
	if be.Reason == "stop_loss_hit" {
		return be.Reason, fmt.Sprintf("%s:breach=%.1f%%", be.Reason, pnl)
	}
	return be.Reason, fmt.Sprintf("%s:gain=%.1f%%", be.Reason, pnl)
}

func verdictWord(v models.Verdict) string {
	if v == models.VerdictIndeterminate {
		return "indeterminate"
	}
	return "not_met"
}
