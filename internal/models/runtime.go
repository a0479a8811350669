package models

import "time"

type RiskStatus string

const (
	RiskOK      RiskStatus = "ok"
	RiskWarning RiskStatus = "warning"
	RiskBlocked RiskStatus = "blocked"
)

// RuntimeState is everything the engine mutates while a bot runs.
type RuntimeState struct {
	TotalOrdersPlaced  int        `json:"totalOrdersPlaced"`
	RealizedPnL        float64    `json:"realizedPnl"`
	LastTradeAt        *time.Time `json:"lastTradeAt,omitempty"`
	LastEntryTriggered string     `json:"lastEntryTriggered,omitempty"`
	RiskStatus         RiskStatus `json:"riskStatus"`

	OpenOrders int            `json:"openOrders"`
	Resting    []RestingOrder `json:"restingOrders,omitempty"`
	Daily      DailyStats     `json:"daily"`
	Position   Position       `json:"position"`
	BaseHeld   float64        `json:"baseHeld"`
	AvgCost    float64        `json:"avgCost"`
	Grid       GridState      `json:"grid"`
	DCA        DCAState       `json:"dca"`

	LastPrice  float64    `json:"lastPrice,omitempty"`
	LastTickAt *time.Time `json:"lastTickAt,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

type DailyStats struct {
	Day         string  `json:"day"`
	Trades      int     `json:"trades"`
	RealizedPnL float64 `json:"realizedPnl"`
}

// Position tracks a signal bot's single open position.
type Position struct {
	Open       bool       `json:"open"`
	EntryPrice float64    `json:"entryPrice,omitempty"`
	Quantity   float64    `json:"quantity,omitempty"`
	PeakPrice  float64    `json:"peakPrice,omitempty"`
	OpenedAt   *time.Time `json:"openedAt,omitempty"`
}

// RestingOrder is a live order the venue accepted but has not filled yet.
type RestingOrder struct {
	OrderID  string    `json:"orderId"`
	Side     Side      `json:"side"`
	Amount   float64   `json:"amount"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Trigger  string    `json:"trigger,omitempty"`
	PlacedAt time.Time `json:"placedAt"`
}

type GridState struct {
	ReferencePrice float64 `json:"referencePrice,omitempty"`
	LastLevel      int     `json:"lastLevel,omitempty"`
	LastSide       Side    `json:"lastSide,omitempty"`
}

type DCAState struct {
	Spent       float64    `json:"spent"`
	Orders      int        `json:"orders"`
	LastOrderAt *time.Time `json:"lastOrderAt,omitempty"`
}

func (r RuntimeState) Clone() RuntimeState {
	out := r
	out.LastTradeAt = cloneTime(r.LastTradeAt)
	out.LastTickAt = cloneTime(r.LastTickAt)
	out.Position.OpenedAt = cloneTime(r.Position.OpenedAt)
	out.DCA.LastOrderAt = cloneTime(r.DCA.LastOrderAt)
	out.Resting = append([]RestingOrder(nil), r.Resting...)
	return out
}

// DailyFor returns today's stats, rolling over when the trading day changed.
func (r RuntimeState) DailyFor(day string) DailyStats {
	if r.Daily.Day != day {
		return DailyStats{Day: day}
	}
	return r.Daily
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
