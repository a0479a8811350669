package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type BotType string

const (
	BotTypeGrid   BotType = "grid"
	BotTypeDCA    BotType = "dca"
	BotTypeSignal BotType = "signal"
)

func (t BotType) Valid() bool {
	switch t {
	case BotTypeGrid, BotTypeDCA, BotTypeSignal:
		return true
	}
	return false
}

type Status string

const (
	StatusDraft   Status = "draft"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

func (m Mode) Valid() bool {
	return m == ModePaper || m == ModeLive
}

type Bot struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"ownerId"`
	Name         string       `json:"name"`
	Type         BotType      `json:"type"`
	Pair         string       `json:"pair"`
	Mode         Mode         `json:"mode"`
	Status       Status       `json:"status"`
	StatusReason string       `json:"statusReason,omitempty"`
	Params       BotParams    `json:"params"`
	Risk         *RiskParams  `json:"risk,omitempty"`
	Runtime      RuntimeState `json:"runtimeState"`
	PresetID     string       `json:"presetId,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// UnmarshalJSON decodes params according to the bot's type.
func (b *Bot) UnmarshalJSON(data []byte) error {
	type alias Bot
	aux := struct {
		*alias
		Params json.RawMessage `json:"params"`
	}{alias: (*alias)(b)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	params, err := DecodeParams(b.Type, aux.Params)
	if err != nil {
		return err
	}
	b.Params = params
	return nil
}

// Clone returns a deep copy that shares no mutable state with b.
func (b *Bot) Clone() *Bot {
	out := *b
	out.Params = b.Params.Clone()
	if b.Risk != nil {
		r := *b.Risk
		out.Risk = &r
	}
	out.Runtime = b.Runtime.Clone()
	return &out
}

// RiskOrZero returns the bot's risk block or an all-disabled one.
func (b *Bot) RiskOrZero() RiskParams {
	if b.Risk == nil {
		return RiskParams{}
	}
	return *b.Risk
}

// BotParams is a tagged variant: exactly one field is populated and it matches the bot type.
type BotParams struct {
	Grid   *GridParams
	DCA    *DCAParams
	Signal *SignalParams
}

func (p BotParams) MarshalJSON() ([]byte, error) {
	switch {
	case p.Grid != nil:
		return json.Marshal(p.Grid)
	case p.DCA != nil:
		return json.Marshal(p.DCA)
	case p.Signal != nil:
		return json.Marshal(p.Signal)
	}
	return []byte("null"), nil
}

// Kind reports which variant is populated, or "" when none or more than one is.
func (p BotParams) Kind() BotType {
	var kinds []BotType
	if p.Grid != nil {
		kinds = append(kinds, BotTypeGrid)
	}
	if p.DCA != nil {
		kinds = append(kinds, BotTypeDCA)
	}
	if p.Signal != nil {
		kinds = append(kinds, BotTypeSignal)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (p BotParams) Clone() BotParams {
	var out BotParams
	if p.Grid != nil {
		g := *p.Grid
		out.Grid = &g
	}
	if p.DCA != nil {
		d := *p.DCA
		out.DCA = &d
	}
	if p.Signal != nil {
		s := *p.Signal
		s.Entry = p.Signal.Entry.Clone()
		s.Exit = p.Signal.Exit.Clone()
		out.Signal = &s
	}
	return out
}

// DecodeParams strictly decodes raw JSON into the variant for t. Unknown fields are rejected.
func DecodeParams(t BotType, raw json.RawMessage) (BotParams, error) {
	var p BotParams
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return p, nil
	}
	var target any
	switch t {
	case BotTypeGrid:
		p.Grid = &GridParams{}
		target = p.Grid
	case BotTypeDCA:
		p.DCA = &DCAParams{}
		target = p.DCA
	case BotTypeSignal:
		p.Signal = &SignalParams{}
		target = p.Signal
	default:
		return p, fmt.Errorf("unknown bot type %q", t)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return BotParams{}, fmt.Errorf("decode %s params: %w", t, err)
	}
	return p, nil
}

type Spacing string

const (
	SpacingArithmetic Spacing = "arithmetic"
	SpacingGeometric  Spacing = "geometric"
)

// MaxGridCount bounds the level slice a grid allocates on every tick.
const MaxGridCount = 500

type GridParams struct {
	LowerPrice       float64 `json:"lowerPrice"`
	UpperPrice       float64 `json:"upperPrice"`
	GridCount        int     `json:"gridCount"`
	InvestmentAmount float64 `json:"investmentAmount"`
	Spacing          Spacing `json:"spacing"`
}

func (g GridParams) Validate() error {
	if g.LowerPrice <= 0 {
		return fmt.Errorf("lowerPrice must be positive")
	}
	if g.UpperPrice <= g.LowerPrice {
		return fmt.Errorf("upperPrice must be greater than lowerPrice")
	}
	if g.GridCount < 2 || g.GridCount > MaxGridCount {
		return fmt.Errorf("gridCount must be between 2 and %d", MaxGridCount)
	}
	if g.InvestmentAmount <= 0 {
		return fmt.Errorf("investmentAmount must be positive")
	}
	switch g.Spacing {
	case SpacingArithmetic, SpacingGeometric:
	default:
		return fmt.Errorf("spacing must be arithmetic or geometric, got %q", g.Spacing)
	}
	return nil
}

// OrderAmount is the quote-currency size of each grid order.
func (g GridParams) OrderAmount() float64 {
	return g.InvestmentAmount / float64(g.GridCount)
}

type DCAParams struct {
	AmountPerInterval float64 `json:"amountPerInterval"`
	TotalBudget       float64 `json:"totalBudget"`
	Interval          string  `json:"interval"`
	Side              Side    `json:"side,omitempty"`
}

func (d DCAParams) Validate() error {
	if d.AmountPerInterval <= 0 {
		return fmt.Errorf("amountPerInterval must be positive")
	}
	if d.TotalBudget < d.AmountPerInterval {
		return fmt.Errorf("totalBudget must be at least amountPerInterval")
	}
	if _, err := ParseInterval(d.Interval); err != nil {
		return err
	}
	switch d.Side {
	case "", SideBuy, SideSell:
	default:
		return fmt.Errorf("side must be buy or sell, got %q", d.Side)
	}
	return nil
}

// OrderSide defaults to buy.
func (d DCAParams) OrderSide() Side {
	if d.Side == "" {
		return SideBuy
	}
	return d.Side
}

// ParseInterval accepts hourly/daily/weekly/monthly or a Go duration string.
func ParseInterval(s string) (time.Duration, error) {
	switch s {
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	case "monthly":
		return 30 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("interval %q is shorter than one minute", s)
	}
	return d, nil
}

type SignalParams struct {
	Timeframe   string   `json:"timeframe"`
	OrderAmount float64  `json:"orderAmount"`
	Entry       RuleTree `json:"entry"`
	Exit        RuleTree `json:"exit"`
}

func (s SignalParams) Validate() error {
	if s.OrderAmount <= 0 {
		return fmt.Errorf("orderAmount must be positive")
	}
	if len(s.Entry.Conditions) == 0 {
		return fmt.Errorf("entry rule needs at least one condition")
	}
	return nil
}

type RiskParams struct {
	StopLossPercent     float64 `json:"stopLossPercent,omitempty"`
	TakeProfitPercent   float64 `json:"takeProfitPercent,omitempty"`
	TrailingStopPercent float64 `json:"trailingStopPercent,omitempty"`
	MaxDrawdownPercent  float64 `json:"maxDrawdownPercent,omitempty"`
	MaxDailyLoss        float64 `json:"maxDailyLoss,omitempty"`
	MaxOpenOrders       int     `json:"maxOpenOrders,omitempty"`
	SafeMode            bool    `json:"safeMode,omitempty"`
	CooldownMinutes     int     `json:"cooldownMinutes,omitempty"`
	MaxDailyTrades      int     `json:"maxDailyTrades,omitempty"`
	RequireStopLoss     bool    `json:"requireStopLoss,omitempty"`
}

func (r RiskParams) Validate() error {
	if r.StopLossPercent < 0 || r.StopLossPercent >= 100 {
		return fmt.Errorf("stopLossPercent must be in [0,100)")
	}
	if r.TakeProfitPercent < 0 {
		return fmt.Errorf("takeProfitPercent must not be negative")
	}
	if r.TrailingStopPercent < 0 || r.TrailingStopPercent >= 100 {
		return fmt.Errorf("trailingStopPercent must be in [0,100)")
	}
	if r.MaxDrawdownPercent < 0 || r.MaxDrawdownPercent > 100 {
		return fmt.Errorf("maxDrawdownPercent must be in [0,100]")
	}
	if r.MaxDailyLoss < 0 || r.MaxOpenOrders < 0 || r.CooldownMinutes < 0 || r.MaxDailyTrades < 0 {
		return fmt.Errorf("risk limits must not be negative")
	}
	return nil
}

// CommittedCapital is the quote amount the bot is configured to deploy.
func (b *Bot) CommittedCapital() float64 {
	switch {
	case b.Params.Grid != nil:
		return b.Params.Grid.InvestmentAmount
	case b.Params.DCA != nil:
		return b.Params.DCA.TotalBudget
	case b.Params.Signal != nil:
		return b.Params.Signal.OrderAmount
	}
	return 0
}
