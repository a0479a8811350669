// Package presets holds the static catalogue of bot templates.
package presets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kjannette/trahn-botengine/internal/models"
)

var ErrPresetNotFound = errors.New("preset not found")

// ErrInvalidOverrides wraps decode failures of instantiate overrides.
var ErrInvalidOverrides = errors.New("invalid preset overrides")

func andTree(conds ...models.Condition) models.RuleTree {
	return models.RuleTree{Operator: models.OperatorAND, Conditions: conds}
}

func orTree(conds ...models.Condition) models.RuleTree {
	return models.RuleTree{Operator: models.OperatorOR, Conditions: conds}
}

var library = []models.Preset{
	{
		ID:          "btc-range-conservative",
		Name:        "BTC Range (Conservative)",
		Description: "Ten arithmetic levels across a sideways BTC range",
		Category:    "grid",
		Type:        models.BotTypeGrid,
		Pair:        "BTCUSD",
		Params: models.BotParams{Grid: &models.GridParams{
			LowerPrice: 80000, UpperPrice: 100000, GridCount: 10,
			InvestmentAmount: 1000, Spacing: models.SpacingArithmetic,
		}},
		Risk: &models.RiskParams{StopLossPercent: 10, MaxOpenOrders: 10, MaxDailyTrades: 40},
	},
	{
		ID:          "eth-wide-geometric",
		Name:        "ETH Wide Geometric",
		Description: "Geometric spacing for a wide ETH range",
		Category:    "grid",
		Type:        models.BotTypeGrid,
		Pair:        "ETHUSD",
		Params: models.BotParams{Grid: &models.GridParams{
			LowerPrice: 2000, UpperPrice: 4000, GridCount: 20,
			InvestmentAmount: 2000, Spacing: models.SpacingGeometric,
		}},
		Risk: &models.RiskParams{StopLossPercent: 15, MaxDailyTrades: 60},
	},
	{
		ID:          "btc-daily-accumulate",
		Name:        "BTC Daily Accumulator",
		Description: "Buy a fixed amount of BTC every day",
		Category:    "dca",
		Type:        models.BotTypeDCA,
		Pair:        "BTCUSD",
		Params: models.BotParams{DCA: &models.DCAParams{
			AmountPerInterval: 100, TotalBudget: 3000, Interval: "daily", Side: models.SideBuy,
		}},
	},
	{
		ID:          "eth-weekly-accumulate",
		Name:        "ETH Weekly Accumulator",
		Description: "Buy a fixed amount of ETH every week",
		Category:    "dca",
		Type:        models.BotTypeDCA,
		Pair:        "ETHUSD",
		Params: models.BotParams{DCA: &models.DCAParams{
			AmountPerInterval: 250, TotalBudget: 5000, Interval: "weekly", Side: models.SideBuy,
		}},
		Risk: &models.RiskParams{TakeProfitPercent: 50},
	},
	{
		ID:          "rsi-oversold-bounce",
		Name:        "RSI Oversold Bounce",
		Description: "Enter when hourly RSI is oversold, exit when overbought",
		Category:    "signal",
		Type:        models.BotTypeSignal,
		Pair:        "BTCUSD",
		Timeframe:   "1h",
		Params: models.BotParams{Signal: &models.SignalParams{
			Timeframe:   "1h",
			OrderAmount: 500,
			Entry:       andTree(models.Condition{Indicator: "RSI", Timeframe: "1h", Comparator: models.CompLT, Threshold: 30}),
			Exit:        orTree(models.Condition{Indicator: "RSI", Timeframe: "1h", Comparator: models.CompGT, Threshold: 70}),
		}},
		Risk: &models.RiskParams{StopLossPercent: 3, TakeProfitPercent: 6, CooldownMinutes: 60},
	},
	{
		ID:          "stoch-range-reversal",
		Name:        "Stochastic Range Reversal",
		Description: "Enter on an oversold 4h stochastic while the trend is weak",
		Category:    "signal",
		Type:        models.BotTypeSignal,
		Pair:        "ETHUSD",
		Timeframe:   "4h",
		Params: models.BotParams{Signal: &models.SignalParams{
			Timeframe:   "4h",
			OrderAmount: 300,
			Entry: andTree(
				models.Condition{Indicator: "STOCH", Timeframe: "4h", Output: "k", Comparator: models.CompLT, Threshold: 20},
				models.Condition{Indicator: "ADX", Timeframe: "4h", Comparator: models.CompLT, Threshold: 25},
			),
			Exit: orTree(models.Condition{Indicator: "RSI", Timeframe: "4h", Comparator: models.CompGT, Threshold: 65}),
		}},
		Risk: &models.RiskParams{StopLossPercent: 4, TrailingStopPercent: 2},
	},
	{
		ID:          "macd-momentum",
		Name:        "MACD Momentum",
		Description: "Ride positive MACD histogram on the daily chart",
		Category:    "signal",
		Type:        models.BotTypeSignal,
		Pair:        "BTCUSD",
		Timeframe:   "1d",
		Params: models.BotParams{Signal: &models.SignalParams{
			Timeframe:   "1d",
			OrderAmount: 1000,
			Entry: andTree(
				models.Condition{Indicator: "MACD", Timeframe: "1d", Output: "histogram", Comparator: models.CompGT, Threshold: 0},
				models.Condition{Indicator: "RSI", Timeframe: "1d", Comparator: models.CompLT, Threshold: 70},
			),
			Exit: orTree(models.Condition{Indicator: "MACD", Timeframe: "1d", Output: "histogram", Comparator: models.CompLT, Threshold: 0}),
		}},
		Risk: &models.RiskParams{StopLossPercent: 8, TakeProfitPercent: 20, MaxDailyTrades: 2},
	},
}

// List returns presets in catalogue order, optionally restricted to one category.
func List(category string) []models.Preset {
	out := make([]models.Preset, 0, len(library))
	for _, p := range library {
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, clonePreset(p))
	}
	return out
}

func Get(id string) (models.Preset, error) {
	for _, p := range library {
		if p.ID == id {
			return clonePreset(p), nil
		}
	}
	return models.Preset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, id)
}

func Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range library {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	sort.Strings(out)
	return out
}

// Instantiate clones a preset into draft bot input. overrides is an optional JSON object
// merged onto the copy; nested objects (params, risk) merge key by key.
func Instantiate(id string, overrides json.RawMessage) (models.DraftBot, error) {
	p, err := Get(id)
	if err != nil {
		return models.DraftBot{}, err
	}
	draft := models.DraftBot{
		Name:     p.Name,
		Type:     p.Type,
		Pair:     p.Pair,
		Mode:     models.ModePaper,
		Params:   p.Params,
		Risk:     p.Risk,
		PresetID: p.ID,
	}

	base, err := json.Marshal(draft)
	if err != nil {
		return models.DraftBot{}, fmt.Errorf("encode preset %s: %w", id, err)
	}
	if len(bytes.TrimSpace(overrides)) > 0 && string(bytes.TrimSpace(overrides)) != "null" {
		var doc, patch map[string]any
		if err := json.Unmarshal(base, &doc); err != nil {
			return models.DraftBot{}, fmt.Errorf("decode preset %s: %w", id, err)
		}
		if err := json.Unmarshal(overrides, &patch); err != nil {
			return models.DraftBot{}, fmt.Errorf("%w: %v", ErrInvalidOverrides, err)
		}
		if t, ok := patch["type"]; ok && t != string(p.Type) {
			return models.DraftBot{}, fmt.Errorf("%w: type cannot be changed", ErrInvalidOverrides)
		}
		mergeInto(doc, patch)
		if base, err = json.Marshal(doc); err != nil {
			return models.DraftBot{}, fmt.Errorf("encode overrides: %w", err)
		}
	}

	var out models.DraftBot
	if err := json.Unmarshal(base, &out); err != nil {
		return models.DraftBot{}, fmt.Errorf("%w: %v", ErrInvalidOverrides, err)
	}
	out.PresetID = p.ID
	return out, nil
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeInto(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

// clonePreset deep-copies so callers can never mutate the catalogue.
func clonePreset(p models.Preset) models.Preset {
	out := p
	out.Params = p.Params.Clone()
	if p.Risk != nil {
		r := *p.Risk
		out.Risk = &r
	}
	return out
}
