package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/kjannette/trahn-botengine/internal/models"
)

// Block reasons, in the order the checks run.
const (
	ReasonEmergencyStop  = "emergency_stop"
	ReasonCooldown       = "cooldown"
	ReasonDailyLimit     = "daily_limit"
	ReasonDailyLossLimit = "daily_loss_limit"
	ReasonMaxOpenOrders  = "max_open_orders"
	ReasonMaxDrawdown    = "max_drawdown"
	ReasonMaxOrderSize   = "max_order_size"
)

var ErrStopLossRequired = errors.New("stop loss is required")

// Limits holds engine-wide thresholds from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxOrderAmount          float64
	RequireStopLoss         bool
	SafeModeCooldownMinutes int
	SafeModeMaxDailyTrades  int
	DayCutoffHour           int
}

// Order is the order a strategy proposes, before any placement.
type Order struct {
	Side   models.Side
	Amount float64 // quote currency
	Opens  bool    // adds exposure rather than reducing it
}

type Decision struct {
	Allowed bool
	Reason  string
}

// RiskCheck formats the decision for the decision log.
func (d Decision) RiskCheck() string {
	if d.Allowed {
		return models.RiskCheckAllowed
	}
	return models.RiskCheckBlocked(d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func block(reason string) Decision { return Decision{Reason: reason} }

type Guardian struct {
	limits Limits
}

func NewGuardian(limits Limits) *Guardian {
	return &Guardian{limits: limits}
}

func (g *Guardian) Limits() Limits { return g.limits }

// Effective returns the bot's risk block with safe mode and engine-wide floors applied.
func (g *Guardian) Effective(r models.RiskParams) models.RiskParams {
	if g.limits.RequireStopLoss {
		r.RequireStopLoss = true
	}
	if !r.SafeMode {
		return r
	}
	r.RequireStopLoss = true
	if g.limits.SafeModeCooldownMinutes > r.CooldownMinutes {
		r.CooldownMinutes = g.limits.SafeModeCooldownMinutes
	}
	if n := g.limits.SafeModeMaxDailyTrades; n > 0 && (r.MaxDailyTrades == 0 || n < r.MaxDailyTrades) {
		r.MaxDailyTrades = n
	}
	return r
}

// CheckStart enforces constraints that apply when a bot leaves draft/stopped.
func (g *Guardian) CheckStart(bot *models.Bot) error {
	r := g.Effective(bot.RiskOrZero())
	if r.RequireStopLoss && r.StopLossPercent <= 0 {
		return ErrStopLossRequired
	}
	return nil
}

// Check runs the pre-trade checks in order and returns the first failure.
// It is a pure function of its arguments.
func (g *Guardian) Check(bot *models.Bot, order Order, ctl Controls, now time.Time) Decision {
	if ctl.EmergencyStop {
		return block(ReasonEmergencyStop)
	}

	r := g.Effective(bot.RiskOrZero())
	rt := bot.Runtime

	if r.CooldownMinutes > 0 && rt.LastTradeAt != nil {
		if now.Sub(*rt.LastTradeAt) < time.Duration(r.CooldownMinutes)*time.Minute {
			return block(ReasonCooldown)
		}
	}

	daily := rt.DailyFor(models.TradingDay(now, g.limits.DayCutoffHour))
	if r.MaxDailyTrades > 0 && daily.Trades >= r.MaxDailyTrades {
		return block(ReasonDailyLimit)
	}

	if r.MaxDailyLoss > 0 && -daily.RealizedPnL >= r.MaxDailyLoss {
		return block(ReasonDailyLossLimit)
	}

	// resting orders never hold back an exit
	if order.Opens && r.MaxOpenOrders > 0 && rt.OpenOrders >= r.MaxOpenOrders {
		return block(ReasonMaxOpenOrders)
	}

	if order.Opens && r.MaxDrawdownPercent > 0 {
		if capital := bot.CommittedCapital(); capital > 0 && rt.RealizedPnL < 0 {
			if -rt.RealizedPnL/capital*100 >= r.MaxDrawdownPercent {
				return block(ReasonMaxDrawdown)
			}
		}
	}

	if g.limits.MaxOrderAmount > 0 && order.Amount > g.limits.MaxOrderAmount {
		return block(ReasonMaxOrderSize)
	}

	return allow()
}

// BreakerError reports a tripped position-level stop.
type BreakerError struct {
	Reason     string // stop_loss_hit or take_profit_hit
	PnLPercent float64
}

func (e *BreakerError) Error() string {
	return fmt.Sprintf("%s: position %+.2f%%", e.Reason, e.PnLPercent)
}

// PortfolioCheck evaluates position-level circuit breakers.
// pnlPercent is the unrealized P&L as a percentage (e.g. -8.5 means down 8.5%).
// Returns nil if trading should continue, a *BreakerError if a breaker tripped.
func (g *Guardian) PortfolioCheck(r models.RiskParams, pnlPercent float64) error {
	if r.StopLossPercent > 0 && pnlPercent <= -r.StopLossPercent {
		return &BreakerError{Reason: "stop_loss_hit", PnLPercent: pnlPercent}
	}
	if r.TakeProfitPercent > 0 && pnlPercent >= r.TakeProfitPercent {
		return &BreakerError{Reason: "take_profit_hit", PnLPercent: pnlPercent}
	}
	return nil
}
