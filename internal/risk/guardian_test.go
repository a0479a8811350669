package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/kjannette/trahn-botengine/internal/models"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func runningBot(r *models.RiskParams) *models.Bot {
	return &models.Bot{
		ID:     "bot-1",
		Type:   models.BotTypeDCA,
		Status: models.StatusRunning,
		Params: models.BotParams{DCA: &models.DCAParams{AmountPerInterval: 100, TotalBudget: 1000, Interval: "daily"}},
		Risk:   r,
		Runtime: models.RuntimeState{
			RiskStatus: models.RiskOK,
		},
	}
}

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func buy() Order { return Order{Side: models.SideBuy, Amount: 100, Opens: true} }

// --- Check ---

func TestCheck_AllDisabled(t *testing.T) {
	g := NewGuardian(Limits{})
	bot := runningBot(nil)
	bot.Runtime.LastTradeAt = ago(time.Second)
	bot.Runtime.OpenOrders = 999
	if d := g.Check(bot, buy(), Controls{}, now); !d.Allowed {
		t.Fatalf("all-zero limits should allow everything, got: %s", d.Reason)
	}
}

func TestCheck_EmergencyStopWinsOverEverything(t *testing.T) {
	g := NewGuardian(Limits{})
	bot := runningBot(&models.RiskParams{CooldownMinutes: 60, MaxOpenOrders: 1})
	bot.Runtime.LastTradeAt = ago(time.Minute)
	bot.Runtime.OpenOrders = 5

	d := g.Check(bot, buy(), Controls{EmergencyStop: true}, now)
	if d.Allowed || d.Reason != ReasonEmergencyStop {
		t.Fatalf("expected emergency_stop, got %+v", d)
	}
	if d.RiskCheck() != "blocked:emergency_stop" {
		t.Fatalf("unexpected risk check string %q", d.RiskCheck())
	}
}

func TestCheck_Cooldown(t *testing.T) {
	g := NewGuardian(Limits{})
	bot := runningBot(&models.RiskParams{CooldownMinutes: 30})

	bot.Runtime.LastTradeAt = ago(29 * time.Minute)
	if d := g.Check(bot, buy(), Controls{}, now); d.Reason != ReasonCooldown {
		t.Fatalf("expected cooldown block at 29m, got %+v", d)
	}

	bot.Runtime.LastTradeAt = ago(30 * time.Minute)
	if d := g.Check(bot, buy(), Controls{}, now); !d.Allowed {
		t.Fatalf("expected allow at exactly 30m, got %+v", d)
	}
}

func TestCheck_DailyLimit(t *testing.T) {
	g := NewGuardian(Limits{})
	bot := runningBot(&models.RiskParams{MaxDailyTrades: 3})
	bot.Runtime.Daily = models.DailyStats{Day: models.TradingDay(now, 0), Trades: 3}

	if d := g.Check(bot, buy(), Controls{}, now); d.Reason != ReasonDailyLimit {
		t.Fatalf("expected daily_limit, got %+v", d)
	}

	// yesterday's count does not carry over
	bot.Runtime.Daily.Day = "2026-03-09"
	if d := g.Check(bot, buy(), Controls{}, now); !d.Allowed {
		t.Fatalf("expected rollover to reset daily count, got %+v", d)
	}
}

func TestCheck_DailyLossLimit(t *testing.T) {
	g := NewGuardian(Limits{})
	bot := runningBot(&models.RiskParams{MaxDailyLoss: 50})
	bot.Runtime.Daily = models.DailyStats{Day: models.TradingDay(now, 0), RealizedPnL: -50}

	if d := g.Check(bot, buy(), Controls{}, now); d.Reason != ReasonDailyLossLimit {
		t.Fatalf("expected daily_loss_limit, got %+v", d)
	}
	bot.Runtime.Daily.RealizedPnL = -49.99
	if d := g.Check(bot, buy(), Controls{}, now); !d.Allowed {
		t.Fatalf("expected allow under the loss limit, got %+v", d)
	}
}

func TestCheck_MaxOpenOrders(t *testing.T) {
	g := NewGuardian(Limits{})
	bot := runningBot(&models.RiskParams{MaxOpenOrders: 2})
	bot.Runtime.OpenOrders = 2
	if d := g.Check(bot, buy(), Controls{}, now); d.Reason != ReasonMaxOpenOrders {
		t.Fatalf("expected max_open_orders, got %+v", d)
	}
	exit := Order{Side: models.SideSell, Amount: 100}
	if d := g.Check(bot, exit, Controls{}, now); !d.Allowed {
		t.Fatalf("resting orders must not block an exit, got %+v", d)
	}
}

func TestCheck_MaxDrawdownOnlyBlocksOpeningOrders(t *testing.T) {
	g := NewGuardian(Limits{})
	bot := runningBot(&models.RiskParams{MaxDrawdownPercent: 10})
	bot.Runtime.RealizedPnL = -100 // 10% of the 1000 budget

	if d := g.Check(bot, buy(), Controls{}, now); d.Reason != ReasonMaxDrawdown {
		t.Fatalf("expected max_drawdown, got %+v", d)
	}
	exit := Order{Side: models.SideSell, Amount: 100}
	if d := g.Check(bot, exit, Controls{}, now); !d.Allowed {
		t.Fatalf("exits must not be blocked by drawdown, got %+v", d)
	}
}

func TestCheck_FirstFailureWins(t *testing.T) {
	g := NewGuardian(Limits{})
	bot := runningBot(&models.RiskParams{CooldownMinutes: 10, MaxDailyTrades: 1, MaxOpenOrders: 1})
	bot.Runtime.LastTradeAt = ago(time.Minute)
	bot.Runtime.Daily = models.DailyStats{Day: models.TradingDay(now, 0), Trades: 1}
	bot.Runtime.OpenOrders = 1

	if d := g.Check(bot, buy(), Controls{}, now); d.Reason != ReasonCooldown {
		t.Fatalf("expected cooldown to be reported first, got %+v", d)
	}
}

func TestCheck_MaxOrderSize(t *testing.T) {
	g := NewGuardian(Limits{MaxOrderAmount: 500})
	bot := runningBot(nil)
	if d := g.Check(bot, Order{Side: models.SideBuy, Amount: 500.01, Opens: true}, Controls{}, now); d.Reason != ReasonMaxOrderSize {
		t.Fatalf("expected max_order_size, got %+v", d)
	}
	if d := g.Check(bot, Order{Side: models.SideBuy, Amount: 499.99, Opens: true}, Controls{}, now); !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
}

func TestCheck_SafeModeAppliesFloors(t *testing.T) {
	g := NewGuardian(Limits{SafeModeCooldownMinutes: 60, SafeModeMaxDailyTrades: 5})
	bot := runningBot(&models.RiskParams{SafeMode: true, CooldownMinutes: 5, MaxDailyTrades: 20})
	bot.Runtime.LastTradeAt = ago(30 * time.Minute)

	if d := g.Check(bot, buy(), Controls{}, now); d.Reason != ReasonCooldown {
		t.Fatalf("safe mode should stretch cooldown to 60m, got %+v", d)
	}

	eff := g.Effective(bot.RiskOrZero())
	if eff.MaxDailyTrades != 5 || !eff.RequireStopLoss {
		t.Fatalf("unexpected effective limits: %+v", eff)
	}
}

// --- CheckStart ---

func TestCheckStart_RequireStopLoss(t *testing.T) {
	g := NewGuardian(Limits{})
	bot := runningBot(&models.RiskParams{RequireStopLoss: true})
	if err := g.CheckStart(bot); !errors.Is(err, ErrStopLossRequired) {
		t.Fatalf("expected ErrStopLossRequired, got %v", err)
	}
	bot.Risk.StopLossPercent = 5
	if err := g.CheckStart(bot); err != nil {
		t.Fatalf("expected start to be allowed, got %v", err)
	}
}

func TestCheckStart_GlobalRequirement(t *testing.T) {
	g := NewGuardian(Limits{RequireStopLoss: true})
	if err := g.CheckStart(runningBot(nil)); !errors.Is(err, ErrStopLossRequired) {
		t.Fatalf("expected global requirement to apply, got %v", err)
	}
}

// --- PortfolioCheck ---

func TestPortfolioCheck_StopLoss_ExactBoundary(t *testing.T) {
	g := NewGuardian(Limits{})
	err := g.PortfolioCheck(models.RiskParams{StopLossPercent: 5}, -5.0)
	var be *BreakerError
	if !errors.As(err, &be) || be.Reason != "stop_loss_hit" {
		t.Fatalf("expected stop-loss to trigger at exactly -5%%, got %v", err)
	}
}

func TestPortfolioCheck_TakeProfit_ExactBoundary(t *testing.T) {
	g := NewGuardian(Limits{})
	err := g.PortfolioCheck(models.RiskParams{TakeProfitPercent: 15}, 15.0)
	var be *BreakerError
	if !errors.As(err, &be) || be.Reason != "take_profit_hit" {
		t.Fatalf("expected take-profit to trigger at exactly +15%%, got %v", err)
	}
}

func TestPortfolioCheck_NotTriggered(t *testing.T) {
	g := NewGuardian(Limits{})
	r := models.RiskParams{StopLossPercent: 10, TakeProfitPercent: 20}
	if err := g.PortfolioCheck(r, -9.99); err != nil {
		t.Fatalf("expected no trigger at -9.99%%, got: %v", err)
	}
	if err := g.PortfolioCheck(r, 19.99); err != nil {
		t.Fatalf("expected no trigger at +19.99%%, got: %v", err)
	}
	if err := g.PortfolioCheck(models.RiskParams{}, -99); err != nil {
		t.Fatalf("zero limits should disable all checks, got: %v", err)
	}
}

// --- Switch ---

func TestSwitch_ActivateIsIdempotent(t *testing.T) {
	s := NewSwitch()
	if s.Snapshot().EmergencyStop {
		t.Fatal("switch should start cleared")
	}
	if !s.Activate("manual", now) {
		t.Fatal("first activation should change state")
	}
	if s.Activate("second", now.Add(time.Hour)) {
		t.Fatal("second activation should be a no-op")
	}
	snap := s.Snapshot()
	if !snap.EmergencyStop || snap.Reason != "manual" || !snap.Since.Equal(now) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !s.Clear() || s.Clear() {
		t.Fatal("clear should change state exactly once")
	}
	if s.Snapshot().EmergencyStop {
		t.Fatal("switch should be cleared")
	}
}

func TestSwitch_RestoreKeepsStopAcrossRestart(t *testing.T) {
	s := NewSwitch()
	since := now.Add(-time.Hour)
	s.Restore(Controls{EmergencyStop: true, Reason: "exchange outage", Since: &since})

	snap := s.Snapshot()
	if !snap.EmergencyStop || snap.Reason != "exchange outage" || !snap.Since.Equal(since) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if s.Activate("again", now) {
		t.Fatal("restored stop should already be active")
	}
	g := NewGuardian(Limits{})
	bot := runningBot(nil)
	if d := g.Check(bot, buy(), s.Snapshot(), now); d.Allowed || d.Reason != ReasonEmergencyStop {
		t.Fatalf("restored stop should block orders, got %+v", d)
	}

	s.Restore(Controls{Reason: "stale"})
	if snap := s.Snapshot(); snap.EmergencyStop || snap.Reason != "" {
		t.Fatalf("inactive controls should restore cleared, got %+v", snap)
	}
}
