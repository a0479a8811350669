package models

import "fmt"

type Operator string

const (
	OperatorAND Operator = "AND"
	OperatorOR  Operator = "OR"
)

type Comparator string

const (
	CompLT  Comparator = "<"
	CompGT  Comparator = ">"
	CompLTE Comparator = "<="
	CompGTE Comparator = ">="
)

func (c Comparator) Valid() bool {
	switch c {
	case CompLT, CompGT, CompLTE, CompGTE:
		return true
	}
	return false
}

// Compare applies the comparator as value <cmp> threshold.
func (c Comparator) Compare(value, threshold float64) bool {
	switch c {
	case CompLT:
		return value < threshold
	case CompGT:
		return value > threshold
	case CompLTE:
		return value <= threshold
	case CompGTE:
		return value >= threshold
	}
	return false
}

type Condition struct {
	Indicator  string     `json:"indicator"`
	Timeframe  string     `json:"timeframe,omitempty"`
	Comparator Comparator `json:"comparator"`
	Threshold  float64    `json:"threshold"`
	Output     string     `json:"output,omitempty"`
}

func (c Condition) String() string {
	name := c.Indicator
	if c.Output != "" {
		name += "." + c.Output
	}
	return fmt.Sprintf("%s(%s) %s %g", name, c.Timeframe, c.Comparator, c.Threshold)
}

type RuleTree struct {
	Operator   Operator    `json:"operator"`
	Conditions []Condition `json:"conditions"`
}

func (t RuleTree) Empty() bool {
	return len(t.Conditions) == 0
}

func (t RuleTree) Clone() RuleTree {
	out := RuleTree{Operator: t.Operator}
	if t.Conditions != nil {
		out.Conditions = append([]Condition(nil), t.Conditions...)
	}
	return out
}

// WithDefaultTimeframe fills conditions that omit a timeframe.
func (t RuleTree) WithDefaultTimeframe(tf string) RuleTree {
	out := t.Clone()
	for i := range out.Conditions {
		if out.Conditions[i].Timeframe == "" {
			out.Conditions[i].Timeframe = tf
		}
	}
	return out
}

type Verdict string

const (
	VerdictTrue          Verdict = "true"
	VerdictFalse         Verdict = "false"
	VerdictIndeterminate Verdict = "indeterminate"
)

// Evidence records how one leaf evaluated. Value is nil when the indicator was missing.
type Evidence struct {
	Indicator  string     `json:"indicator"`
	Timeframe  string     `json:"timeframe"`
	Output     string     `json:"output,omitempty"`
	Comparator Comparator `json:"comparator"`
	Threshold  float64    `json:"threshold"`
	Value      *float64   `json:"value"`
	Result     Verdict    `json:"result"`
}
