package models

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideNone Side = "none"
)

type Outcome string

const (
	OutcomeTrade       Outcome = "trade"
	OutcomeNoAction    Outcome = "no_action"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeOrderFailed Outcome = "order_failed"
	OutcomeError       Outcome = "error"
	OutcomeLifecycle   Outcome = "lifecycle"
)

const (
	RiskCheckAllowed = "allowed"
	RiskCheckNA      = "n/a"
)

// RiskCheckBlocked formats the risk_check column for a blocked decision.
func RiskCheckBlocked(reason string) string {
	return "blocked:" + reason
}

// DecisionLogEntry is one immutable line of a bot's audit trail.
type DecisionLogEntry struct {
	LogID         string     `json:"logId"`
	BotID         string     `json:"botId"`
	OwnerID       string     `json:"ownerId"`
	Timestamp     time.Time  `json:"timestamp"`
	Outcome       Outcome    `json:"outcome"`
	Side          Side       `json:"side"`
	Pair          string     `json:"pair"`
	Price         float64    `json:"price"`
	Quantity      float64    `json:"quantity"`
	Fee           float64    `json:"fee"`
	PnLDelta      float64    `json:"pnlDelta"`
	Mode          Mode       `json:"mode"`
	TriggerReason string     `json:"triggerReason"`
	RiskCheck     string     `json:"riskCheck"`
	OrderID       string     `json:"orderId,omitempty"`
	Evidence      []Evidence `json:"evidence,omitempty"`
}

// IsTrade reports whether the entry records an executed order.
func (e DecisionLogEntry) IsTrade() bool {
	return e.Outcome == OutcomeTrade
}

// DecisionFilter narrows decision log queries. Zero values mean "any".
type DecisionFilter struct {
	OwnerID string
	BotID   string
	Side    Side
	Outcome Outcome
	From    *time.Time
	To      *time.Time
	Text    string
	Limit   int
}
